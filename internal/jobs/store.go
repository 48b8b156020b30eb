package jobs

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ezclips/ezclips-server/internal/db"
)

// ErrDuplicate is returned by Store.Create for a known id.
var ErrDuplicate = errors.New("job already exists")

// Store persists jobs. Get returns (nil, nil) when the id is unknown.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim moves id from waiting to active, reporting whether this caller won.
	Claim(ctx context.Context, id string) (bool, error)
	// ClaimNext claims the oldest waiting job whose name is in names.
	ClaimNext(ctx context.Context, names []string) (*Job, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	Finish(ctx context.Context, id string, state State, progress int, reason string) error
	List(ctx context.Context, limit int) ([]*Job, error)
}

// MemoryStore keeps jobs in a map. Jobs are never evicted, so status stays
// pollable for the life of the process.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return ErrDuplicate
	}
	m.jobs[j.ID] = j.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return j.clone(), nil
}

func (m *MemoryStore) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.State != StateWaiting {
		return false, nil
	}
	j.State = StateActive
	j.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) ClaimNext(_ context.Context, names []string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *Job
	for _, j := range m.jobs {
		if j.State != StateWaiting || !contains(names, j.Name) {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.State = StateActive
	oldest.UpdatedAt = m.now()
	return oldest.clone(), nil
}

func (m *MemoryStore) UpdateProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && !j.State.Terminal() {
		j.Progress = progress
		j.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemoryStore) Finish(_ context.Context, id string, state State, progress int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.State = state
		j.Progress = progress
		j.FailedReason = reason
		j.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SQLStore keeps jobs in the jobs table, shared by every process pointed at
// the same database.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database.Conn(), dialect: database.Dialect(), now: time.Now}
}

func (r *SQLStore) q(query string) string {
	return db.Rebind(r.dialect, query)
}

func (r *SQLStore) stamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func (r *SQLStore) Create(ctx context.Context, j *Job) error {
	existing, err := r.Get(ctx, j.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicate
	}
	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO jobs (id, name, payload, state, progress, failed_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), j.ID, j.Name, string(j.Payload), string(j.State), j.Progress, nullString(j.FailedReason),
		j.CreatedAt.UTC().Format(time.RFC3339Nano), j.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, name, payload, state, progress, failed_reason, created_at, updated_at
		FROM jobs WHERE id = ?
	`), id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?
	`), string(StateActive), r.stamp(), id, string(StateWaiting))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLStore) ClaimNext(ctx context.Context, names []string) (*Job, error) {
	if len(names) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	args := []any{string(StateWaiting)}
	for _, n := range names {
		args = append(args, n)
	}

	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id FROM jobs WHERE state = ? AND name IN (`+placeholders+`)
		ORDER BY created_at ASC LIMIT 10
	`), args...)
	if err != nil {
		return nil, err
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for _, id := range candidates {
		won, err := r.Claim(ctx, id)
		if err != nil {
			return nil, err
		}
		if won {
			return r.Get(ctx, id)
		}
	}
	return nil, nil
}

func (r *SQLStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND state IN (?, ?)
	`), progress, r.stamp(), id, string(StateWaiting), string(StateActive))
	return err
}

func (r *SQLStore) Finish(ctx context.Context, id string, state State, progress int, reason string) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		UPDATE jobs SET state = ?, progress = ?, failed_reason = ?, updated_at = ? WHERE id = ?
	`), string(state), progress, nullString(reason), r.stamp(), id)
	return err
}

func (r *SQLStore) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, name, payload, state, progress, failed_reason, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var payload, state, createdAt, updatedAt string
	var reason sql.NullString

	if err := row.Scan(&j.ID, &j.Name, &payload, &state, &j.Progress, &reason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.Payload = []byte(payload)
	j.State = State(state)
	j.FailedReason = reason.String
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &j, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

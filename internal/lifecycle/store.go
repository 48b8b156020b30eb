package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ezclips/ezclips-server/internal/db"
)

// ErrDuplicate is returned by Store.Create when the id is already tracked.
var ErrDuplicate = errors.New("video state already exists")

// Store persists VideoState records. Get returns (nil, nil) for unknown ids.
// Stores do no transition checking; Machine owns the rules.
type Store interface {
	Create(ctx context.Context, s *VideoState) error
	Get(ctx context.Context, id string) (*VideoState, error)
	Save(ctx context.Context, s *VideoState) error
	ListByState(ctx context.Context, states ...State) ([]*VideoState, error)
	// SwapState moves id from one state to another only if it is still in
	// from, reporting whether it did. This is what makes Claim safe across
	// processes sharing one database.
	SwapState(ctx context.Context, id string, from, to State, at time.Time) (bool, error)
}

// MemoryStore keeps states in a map. It is the single-instance default when
// no database is configured and the store used by tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*VideoState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*VideoState)}
}

func (m *MemoryStore) Create(_ context.Context, s *VideoState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[s.ID]; ok {
		return ErrDuplicate
	}
	m.states[s.ID] = s.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*VideoState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	if !ok {
		return nil, nil
	}
	return s.clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *VideoState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.ID] = s.clone()
	return nil
}

func (m *MemoryStore) SwapState(_ context.Context, id string, from, to State, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok || s.State != from {
		return false, nil
	}
	s.State = to
	s.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) ListByState(_ context.Context, states ...State) ([]*VideoState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*VideoState
	for _, s := range m.states {
		for _, want := range states {
			if s.State == want {
				out = append(out, s.clone())
				break
			}
		}
	}
	return out, nil
}

// SQLStore keeps states in the video_states table.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database.Conn(), dialect: database.Dialect()}
}

func (r *SQLStore) q(query string) string {
	return db.Rebind(r.dialect, query)
}

func (r *SQLStore) Create(ctx context.Context, s *VideoState) error {
	existing, err := r.Get(ctx, s.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicate
	}

	meta, err := encodeMetadata(s.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO video_states (id, state, progress, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), s.ID, string(s.State), s.Progress, nullString(s.Error), meta,
		s.CreatedAt.UTC().Format(time.RFC3339Nano), s.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SQLStore) Get(ctx context.Context, id string) (*VideoState, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, state, progress, error, metadata, created_at, updated_at
		FROM video_states WHERE id = ?
	`), id)
	s, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SQLStore) Save(ctx context.Context, s *VideoState) error {
	meta, err := encodeMetadata(s.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.q(`
		UPDATE video_states SET state = ?, progress = ?, error = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`), string(s.State), s.Progress, nullString(s.Error), meta,
		s.UpdatedAt.UTC().Format(time.RFC3339Nano), s.ID)
	return err
}

func (r *SQLStore) SwapState(ctx context.Context, id string, from, to State, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE video_states SET state = ?, updated_at = ? WHERE id = ? AND state = ?
	`), string(to), at.UTC().Format(time.RFC3339Nano), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLStore) ListByState(ctx context.Context, states ...State) ([]*VideoState, error) {
	var out []*VideoState
	for _, st := range states {
		rows, err := r.db.QueryContext(ctx, r.q(`
			SELECT id, state, progress, error, metadata, created_at, updated_at
			FROM video_states WHERE state = ?
		`), string(st))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			s, err := scanState(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, s)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*VideoState, error) {
	var s VideoState
	var state, createdAt, updatedAt string
	var errMsg, meta sql.NullString

	if err := row.Scan(&s.ID, &state, &s.Progress, &errMsg, &meta, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.State = State(state)
	s.Error = errMsg.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &s.Metadata); err != nil {
			return nil, err
		}
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &s, nil
}

func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

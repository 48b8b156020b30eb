package catalog

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ezclips/ezclips-server/internal/db"
)

// ErrDuplicate is returned by Repository.CreateVideo for a known id.
var ErrDuplicate = errors.New("video already registered")

// Repository stores Video records. GetVideo returns (nil, nil) when the id is
// unknown.
type Repository interface {
	CreateVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context) ([]*Video, error)
	UpdateVideoDuration(ctx context.Context, id string, duration int) error
	UpdateVideoTrim(ctx context.Context, id string, start, end int, trimmedPath string) error
}

// MemoryRepository keeps videos in a map.
type MemoryRepository struct {
	mu     sync.RWMutex
	videos map[string]*Video
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{videos: make(map[string]*Video)}
}

func (r *MemoryRepository) CreateVideo(_ context.Context, v *Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[v.ID]; ok {
		return ErrDuplicate
	}
	r.videos[v.ID] = v.clone()
	return nil
}

func (r *MemoryRepository) GetVideo(_ context.Context, id string) (*Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, nil
	}
	return v.clone(), nil
}

func (r *MemoryRepository) ListVideos(_ context.Context) ([]*Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Video, 0, len(r.videos))
	for _, v := range r.videos {
		out = append(out, v.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateVideoDuration(_ context.Context, id string, duration int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		v.Duration = duration
	}
	return nil
}

func (r *MemoryRepository) UpdateVideoTrim(_ context.Context, id string, start, end int, trimmedPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		v.TrimStart, v.TrimEnd, v.TrimmedPath = &start, &end, trimmedPath
	}
	return nil
}

// SQLRepository stores videos in the videos table of SQLite or Postgres.
type SQLRepository struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewSQLRepository(database *db.DB) *SQLRepository {
	return &SQLRepository{db: database.Conn(), dialect: database.Dialect()}
}

func (r *SQLRepository) q(query string) string {
	return db.Rebind(r.dialect, query)
}

const videoColumns = `id, path, duration, size, source_kind, origin_url, origin_id, original_name, mime_type, trim_start, trim_end, trimmed_path, created_at`

func (r *SQLRepository) CreateVideo(ctx context.Context, v *Video) error {
	existing, err := r.GetVideo(ctx, v.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicate
	}

	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO videos (`+videoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), v.ID, v.Path, v.Duration, v.Size, v.SourceKind,
		nullString(v.OriginURL), nullString(v.OriginID), nullString(v.OriginalName), nullString(v.MimeType),
		nullInt(v.TrimStart), nullInt(v.TrimEnd), nullString(v.TrimmedPath),
		v.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SQLRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+videoColumns+` FROM videos WHERE id = ?`), id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLRepository) ListVideos(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLRepository) UpdateVideoDuration(ctx context.Context, id string, duration int) error {
	_, err := r.db.ExecContext(ctx, r.q("UPDATE videos SET duration = ? WHERE id = ?"), duration, id)
	return err
}

func (r *SQLRepository) UpdateVideoTrim(ctx context.Context, id string, start, end int, trimmedPath string) error {
	_, err := r.db.ExecContext(ctx, r.q("UPDATE videos SET trim_start = ?, trim_end = ?, trimmed_path = ? WHERE id = ?"),
		start, end, nullString(trimmedPath), id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var createdAt string
	var originURL, originID, originalName, mimeType, trimmedPath sql.NullString
	var trimStart, trimEnd sql.NullInt64

	err := row.Scan(&v.ID, &v.Path, &v.Duration, &v.Size, &v.SourceKind,
		&originURL, &originID, &originalName, &mimeType, &trimStart, &trimEnd, &trimmedPath, &createdAt)
	if err != nil {
		return nil, err
	}

	v.OriginURL = originURL.String
	v.OriginID = originID.String
	v.OriginalName = originalName.String
	v.MimeType = mimeType.String
	v.TrimmedPath = trimmedPath.String
	if trimStart.Valid {
		s := int(trimStart.Int64)
		v.TrimStart = &s
	}
	if trimEnd.Valid {
		e := int(trimEnd.Int64)
		v.TrimEnd = &e
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &v, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

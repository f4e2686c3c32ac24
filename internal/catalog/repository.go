package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const defaultAttemptLimit = 50

type Repository interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	BeginAttempt(ctx context.Context, videoID, batchID string) (int64, error)
	FinishAttempt(ctx context.Context, id int64, outcome, errMsg string) error
	RecordAttempt(ctx context.Context, videoID, batchID, outcome, errMsg string) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]*Attempt, error)
	CountAttempts(ctx context.Context, outcome string) (int, error)

	UpdateMetadata(ctx context.Context, videoID, indexID string, md Metadata) error
	GetMetadata(ctx context.Context, videoID string) (*StoredMetadata, error)
	ListMetadata(ctx context.Context, videoIDs []string) ([]*StoredMetadata, error)
}

// AttemptFilter narrows ListAttempts. Zero fields are ignored.
type AttemptFilter struct {
	VideoID string
	BatchID string
	Outcome string
	Limit   int
}

type SQLiteRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (r *SQLiteRepository) BeginAttempt(ctx context.Context, videoID, batchID string) (int64, error) {
	now := formatTime(time.Now())
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO enrichment_attempts (video_id, batch_id, outcome, error, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`, videoID, nullString(batchID), OutcomeInFlight, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) FinishAttempt(ctx context.Context, id int64, outcome, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrichment_attempts SET outcome = ?, error = ?, updated_at = ? WHERE id = ?
	`, outcome, nullString(errMsg), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish attempt %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) RecordAttempt(ctx context.Context, videoID, batchID, outcome, errMsg string) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrichment_attempts (video_id, batch_id, outcome, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, videoID, nullString(batchID), outcome, nullString(errMsg), now, now)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListAttempts(ctx context.Context, filter AttemptFilter) ([]*Attempt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAttemptLimit
	}

	q := r.sb.Select("id", "video_id", "batch_id", "outcome", "error", "created_at").
		From("enrichment_attempts").
		OrderBy("id DESC").
		Limit(uint64(limit))
	if filter.VideoID != "" {
		q = q.Where(sq.Eq{"video_id": filter.VideoID})
	}
	if filter.BatchID != "" {
		q = q.Where(sq.Eq{"batch_id": filter.BatchID})
	}
	if filter.Outcome != "" {
		q = q.Where(sq.Eq{"outcome": filter.Outcome})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build attempts query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		var batchID, errMsg sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.VideoID, &batchID, &a.Outcome, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		a.BatchID = batchID.String
		a.Error = errMsg.String
		a.CreatedAt = parseTime(createdAt)
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

func (r *SQLiteRepository) CountAttempts(ctx context.Context, outcome string) (int, error) {
	q := r.sb.Select("COUNT(*)").From("enrichment_attempts")
	if outcome != "" {
		q = q.Where(sq.Eq{"outcome": outcome})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// UpdateMetadata upserts the mirrored metadata for a video.
func (r *SQLiteRepository) UpdateMetadata(ctx context.Context, videoID, indexID string, md Metadata) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO video_metadata (video_id, index_id, source, sector, emotions, brands, locations, demographics, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			index_id = excluded.index_id,
			source = excluded.source,
			sector = excluded.sector,
			emotions = excluded.emotions,
			brands = excluded.brands,
			locations = excluded.locations,
			demographics = excluded.demographics,
			updated_at = excluded.updated_at
	`, videoID, indexID, md.Source, md.Sector, md.Emotions, md.Brands, md.Locations, md.Demographics, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert metadata %s: %w", videoID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetMetadata(ctx context.Context, videoID string) (*StoredMetadata, error) {
	items, err := r.ListMetadata(ctx, []string{videoID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// ListMetadata returns mirrored metadata for the given ids, or for every
// video when ids is empty.
func (r *SQLiteRepository) ListMetadata(ctx context.Context, videoIDs []string) ([]*StoredMetadata, error) {
	q := r.sb.Select("video_id", "index_id", "source", "sector", "emotions", "brands", "locations", "demographics", "updated_at").
		From("video_metadata").
		OrderBy("video_id")
	if len(videoIDs) > 0 {
		q = q.Where(sq.Eq{"video_id": videoIDs})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build metadata query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StoredMetadata
	for rows.Next() {
		var m StoredMetadata
		var updatedAt string
		if err := rows.Scan(&m.VideoID, &m.IndexID,
			&m.Metadata.Source, &m.Metadata.Sector, &m.Metadata.Emotions,
			&m.Metadata.Brands, &m.Metadata.Locations, &m.Metadata.Demographics,
			&updatedAt); err != nil {
			return nil, err
		}
		m.UpdatedAt = parseTime(updatedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

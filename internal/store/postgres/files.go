package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-courier/internal/store"
)

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM files WHERE dedup_key = $1)", key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("seen lookup: %w", err)
	}
	return exists, nil
}

func (s *Store) SeenContent(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM files WHERE content_hash = $1)", hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("seen content lookup: %w", err)
	}
	return exists, nil
}

func (s *Store) AddFile(ctx context.Context, rec store.FileRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var score sql.NullFloat64
	if rec.MatchScore != nil {
		score = sql.NullFloat64{Float64: *rec.MatchScore, Valid: true}
	}
	var uploadedAt sql.NullTime
	if rec.UploadedAt != nil {
		uploadedAt = sql.NullTime{Time: *rec.UploadedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (
			dedup_key, source_path, content_hash, content_duplicate,
			matched, uploaded, match_score, matched_person, created_at, uploaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedup_key) DO UPDATE SET
			source_path       = EXCLUDED.source_path,
			content_hash      = COALESCE(files.content_hash, EXCLUDED.content_hash),
			content_duplicate = files.content_duplicate OR EXCLUDED.content_duplicate,
			matched           = files.matched OR EXCLUDED.matched,
			uploaded          = files.uploaded OR EXCLUDED.uploaded,
			match_score       = COALESCE(EXCLUDED.match_score, files.match_score),
			matched_person    = CASE WHEN EXCLUDED.matched_person <> '' THEN EXCLUDED.matched_person ELSE files.matched_person END,
			uploaded_at       = COALESCE(files.uploaded_at, EXCLUDED.uploaded_at)`,
		rec.DedupKey,
		rec.SourcePath,
		nullableString(rec.ContentHash),
		rec.ContentDuplicate,
		rec.Matched,
		rec.Uploaded,
		score,
		rec.MatchedPerson,
		createdAt,
		uploadedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert file record: %w", err)
	}
	return nil
}

// MarkUploaded is a merge write: when no record exists for the key yet a
// stub row is created instead of failing the batch.
func (s *Store) MarkUploaded(ctx context.Context, key string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (dedup_key, source_path, uploaded, created_at, uploaded_at)
		VALUES ($1, '', TRUE, $2, $2)
		ON CONFLICT (dedup_key) DO UPDATE SET
			uploaded    = TRUE,
			uploaded_at = COALESCE(files.uploaded_at, EXCLUDED.uploaded_at)`,
		key, now,
	)
	if err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE matched),
		       COUNT(*) FILTER (WHERE uploaded)
		FROM files`).Scan(&st.Files, &st.Matched, &st.Uploaded)
	if err != nil {
		return store.Stats{}, fmt.Errorf("file stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM borderline_events WHERE NOT alerted)
		     + (SELECT COUNT(*) FROM error_events WHERE NOT alerted)`).Scan(&st.PendingEvents)
	if err != nil {
		return store.Stats{}, fmt.Errorf("event stats: %w", err)
	}
	return st, nil
}

func (s *Store) RecentFiles(ctx context.Context, limit int) ([]store.FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT dedup_key, source_path, content_hash, content_duplicate,
		       matched, uploaded, match_score, matched_person, created_at, uploaded_at
		FROM files
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent files: %w", err)
	}
	defer rows.Close()

	var records []store.FileRecord
	for rows.Next() {
		var (
			rec        store.FileRecord
			hash       sql.NullString
			score      sql.NullFloat64
			uploadedAt sql.NullTime
		)
		err := rows.Scan(&rec.DedupKey, &rec.SourcePath, &hash, &rec.ContentDuplicate,
			&rec.Matched, &rec.Uploaded, &score, &rec.MatchedPerson, &rec.CreatedAt, &uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		rec.ContentHash = hash.String
		if score.Valid {
			v := score.Float64
			rec.MatchScore = &v
		}
		if uploadedAt.Valid {
			t := uploadedAt.Time
			rec.UploadedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

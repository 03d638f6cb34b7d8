package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-courier/internal/store"
)

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM files WHERE dedup_key = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seen lookup: %w", err)
	}
	return true, nil
}

func (s *Store) SeenContent(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM files WHERE content_hash = ? LIMIT 1", hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seen content lookup: %w", err)
	}
	return true, nil
}

func (s *Store) AddFile(ctx context.Context, rec store.FileRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var score sql.NullFloat64
	if rec.MatchScore != nil {
		score = sql.NullFloat64{Float64: *rec.MatchScore, Valid: true}
	}
	var uploadedAt sql.NullString
	if rec.UploadedAt != nil {
		uploadedAt = sql.NullString{String: formatTime(*rec.UploadedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (
			dedup_key, source_path, content_hash, content_duplicate,
			matched, uploaded, match_score, matched_person, created_at, uploaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO UPDATE SET
			source_path       = excluded.source_path,
			content_hash      = COALESCE(files.content_hash, excluded.content_hash),
			content_duplicate = MAX(files.content_duplicate, excluded.content_duplicate),
			matched           = MAX(files.matched, excluded.matched),
			uploaded          = MAX(files.uploaded, excluded.uploaded),
			match_score       = COALESCE(excluded.match_score, files.match_score),
			matched_person    = CASE WHEN excluded.matched_person != '' THEN excluded.matched_person ELSE files.matched_person END,
			uploaded_at       = COALESCE(files.uploaded_at, excluded.uploaded_at)`,
		rec.DedupKey,
		rec.SourcePath,
		nullableString(rec.ContentHash),
		boolToInt(rec.ContentDuplicate),
		boolToInt(rec.Matched),
		boolToInt(rec.Uploaded),
		score,
		rec.MatchedPerson,
		formatTime(createdAt),
		uploadedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert file record: %w", err)
	}
	return nil
}

// MarkUploaded merges the uploaded flag. If no record exists for the key a
// stub row is created so the call never fails on a half-persisted batch.
func (s *Store) MarkUploaded(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (dedup_key, source_path, uploaded, created_at, uploaded_at)
		VALUES (?, '', 1, ?, ?)
		ON CONFLICT (dedup_key) DO UPDATE SET
			uploaded    = 1,
			uploaded_at = COALESCE(files.uploaded_at, excluded.uploaded_at)`,
		key, now, now,
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
		       COALESCE(SUM(matched), 0),
		       COALESCE(SUM(uploaded), 0)
		FROM files`).Scan(&st.Files, &st.Matched, &st.Uploaded)
	if err != nil {
		return store.Stats{}, fmt.Errorf("file stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM borderline_events WHERE alerted = 0)
		     + (SELECT COUNT(*) FROM error_events WHERE alerted = 0)`).Scan(&st.PendingEvents)
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
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent files: %w", err)
	}
	defer rows.Close()

	var records []store.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanFileRecord(rows *sql.Rows) (store.FileRecord, error) {
	var (
		rec              store.FileRecord
		hash             sql.NullString
		dup, matched, up int
		score            sql.NullFloat64
		createdAt        string
		uploadedAt       sql.NullString
	)
	err := rows.Scan(&rec.DedupKey, &rec.SourcePath, &hash, &dup,
		&matched, &up, &score, &rec.MatchedPerson, &createdAt, &uploadedAt)
	if err != nil {
		return store.FileRecord{}, fmt.Errorf("scan file record: %w", err)
	}
	rec.ContentHash = hash.String
	rec.ContentDuplicate = dup != 0
	rec.Matched = matched != 0
	rec.Uploaded = up != 0
	if score.Valid {
		v := score.Float64
		rec.MatchScore = &v
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return store.FileRecord{}, err
	}
	if uploadedAt.Valid {
		t, err := parseTime(uploadedAt.String)
		if err != nil {
			return store.FileRecord{}, err
		}
		rec.UploadedAt = &t
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

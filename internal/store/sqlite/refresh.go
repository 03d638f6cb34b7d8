package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/kozaktomas/photo-courier/internal/store"
)

func (s *Store) RefreshCandidates(ctx context.Context, person string, targetScore float64) ([]store.RefreshCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.dedup_key, f.source_path, f.match_score,
		       ABS(f.match_score - ?) AS score_delta
		FROM files f
		LEFT JOIN refresh_history r ON f.source_path = r.source_path
		WHERE f.matched = 1
		  AND f.uploaded = 1
		  AND f.matched_person = ?
		  AND f.match_score IS NOT NULL
		  AND r.id IS NULL
		ORDER BY score_delta ASC`,
		targetScore, person)
	if err != nil {
		return nil, fmt.Errorf("refresh candidates: %w", err)
	}
	defer rows.Close()

	var candidates []store.RefreshCandidate
	for rows.Next() {
		var c store.RefreshCandidate
		if err := rows.Scan(&c.DedupKey, &c.SourcePath, &c.MatchScore, &c.ScoreDelta); err != nil {
			return nil, fmt.Errorf("scan refresh candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *Store) LastRefreshTime(ctx context.Context) (time.Time, error) {
	var runAt sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(run_at) FROM refresh_history").Scan(&runAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("last refresh time: %w", err)
	}
	if !runAt.Valid {
		return time.Time{}, nil
	}
	return parseTime(runAt.String)
}

func (s *Store) AddRefreshRecord(ctx context.Context, rec store.RefreshRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	runAt := rec.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_history (person, source_path, added_path, source_score, target_score, run_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Person, rec.SourcePath, rec.AddedPath, rec.SourceScore, rec.TargetScore, formatTime(runAt),
	)
	if err != nil {
		return fmt.Errorf("insert refresh record: %w", err)
	}
	return nil
}

func (s *Store) CachedReferenceSet(ctx context.Context, cacheKey, filesHash string) ([]store.ReferenceEmbedding, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT files_hash, person, embedding
		FROM reference_embeddings
		WHERE cache_key = ?
		ORDER BY id ASC`, cacheKey)
	if err != nil {
		return nil, false, fmt.Errorf("load reference cache: %w", err)
	}
	defer rows.Close()

	var refs []store.ReferenceEmbedding
	for rows.Next() {
		var (
			storedHash string
			ref        store.ReferenceEmbedding
			blob       []byte
		)
		if err := rows.Scan(&storedHash, &ref.Person, &blob); err != nil {
			return nil, false, fmt.Errorf("scan reference embedding: %w", err)
		}
		// A stale directory hash invalidates the whole cache entry.
		if storedHash != filesHash {
			return nil, false, nil
		}
		ref.Embedding = decodeVector(blob)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(refs) == 0 {
		return nil, false, nil
	}
	return refs, true, nil
}

func (s *Store) SaveReferenceSet(ctx context.Context, cacheKey, filesHash string, refs []store.ReferenceEmbedding) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reference cache tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reference_embeddings WHERE cache_key = ?", cacheKey); err != nil {
		return fmt.Errorf("clear reference cache: %w", err)
	}

	now := formatTime(time.Now())
	for _, ref := range refs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reference_embeddings (cache_key, files_hash, person, embedding, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			cacheKey, filesHash, ref.Person, encodeVector(ref.Embedding), now,
		)
		if err != nil {
			return fmt.Errorf("insert reference embedding: %w", err)
		}
	}
	return tx.Commit()
}

// encodeVector packs a float32 slice as little-endian bytes for BLOB storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

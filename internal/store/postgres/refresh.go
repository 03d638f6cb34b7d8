package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/photo-courier/internal/store"
)

func (s *Store) RefreshCandidates(ctx context.Context, person string, targetScore float64) ([]store.RefreshCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.dedup_key, f.source_path, f.match_score, ABS(f.match_score - $1)
		FROM files f
		LEFT JOIN refresh_history r ON r.source_path = f.source_path
		WHERE f.matched AND f.uploaded
		  AND f.matched_person = $2
		  AND f.match_score IS NOT NULL
		  AND r.id IS NULL
		ORDER BY ABS(f.match_score - $1) ASC`,
		targetScore, person,
	)
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
	var runAt sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT MAX(run_at) FROM refresh_history").Scan(&runAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("last refresh time: %w", err)
	}
	if !runAt.Valid {
		return time.Time{}, nil
	}
	return runAt.Time, nil
}

func (s *Store) AddRefreshRecord(ctx context.Context, rec store.RefreshRecord) error {
	if rec.RunAt.IsZero() {
		rec.RunAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_history (person, source_path, added_path, source_score, target_score, run_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Person, rec.SourcePath, rec.AddedPath, rec.SourceScore, rec.TargetScore, rec.RunAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh record: %w", err)
	}
	return nil
}

func (s *Store) CachedReferenceSet(ctx context.Context, cacheKey, filesHash string) ([]store.ReferenceEmbedding, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person, embedding
		FROM reference_embeddings
		WHERE cache_key = $1 AND files_hash = $2
		ORDER BY id`,
		cacheKey, filesHash,
	)
	if err != nil {
		return nil, false, fmt.Errorf("cached reference set: %w", err)
	}
	defer rows.Close()

	var refs []store.ReferenceEmbedding
	for rows.Next() {
		var ref store.ReferenceEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&ref.Person, &vec); err != nil {
			return nil, false, fmt.Errorf("scan reference embedding: %w", err)
		}
		ref.Embedding = vec.Slice()
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reference set tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reference_embeddings WHERE cache_key = $1", cacheKey); err != nil {
		return fmt.Errorf("clear reference set: %w", err)
	}
	for _, ref := range refs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reference_embeddings (cache_key, files_hash, person, embedding)
			VALUES ($1, $2, $3, $4)`,
			cacheKey, filesHash, ref.Person, pgvector.NewVector(ref.Embedding),
		)
		if err != nil {
			return fmt.Errorf("insert reference embedding: %w", err)
		}
	}
	return tx.Commit()
}

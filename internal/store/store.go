// Package store defines the dedup store contract shared by the embedded
// sqlite backend and the shared postgres backend. The store is the single
// owner of all persisted pipeline state: file records, review events,
// refresh history and the cached reference set.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store is implemented identically by both backends. Every write is an
// idempotent merge: the contract is written against the weaker backend
// (no cross-record transactions), so calling any method twice, or calling
// MarkUploaded before AddFile, must be safe.
type Store interface {
	// Seen reports whether a dedup key has been recorded. Called before any
	// download so already-known paths cost no remote I/O.
	Seen(ctx context.Context, key string) (bool, error)

	// SeenContent reports whether the content hash has been recorded under
	// any path. This is the second dedup layer: the same bytes can arrive
	// again at a different path.
	SeenContent(ctx context.Context, hash string) (bool, error)

	// AddFile inserts or merges a file record keyed by DedupKey. The content
	// hash is written at most once; a later call never overwrites it.
	AddFile(ctx context.Context, rec FileRecord) error

	// MarkUploaded flags a record as uploaded. It must succeed even when no
	// record exists yet for the key: a crash between recognition and
	// persistence may leave the upload as the first write for a key.
	MarkUploaded(ctx context.Context, key string) error

	AddBorderlineEvent(ctx context.Context, ev Event) error
	AddErrorEvent(ctx context.Context, ev Event) error

	// PendingEvents returns all unalerted events, oldest first.
	PendingEvents(ctx context.Context) ([]Event, error)

	// MarkEventsAlerted flips the alerted flag. Never reset.
	MarkEventsAlerted(ctx context.Context, ids []string) error

	// CleanupEvents deletes events that are both alerted and older than the
	// retention window. Pending events are kept regardless of age.
	CleanupEvents(ctx context.Context, retentionDays int) (int64, error)

	// LastAlertTime returns the time of the last sent alert batch, or the
	// zero time when none has been sent.
	LastAlertTime(ctx context.Context) (time.Time, error)
	RecordAlertSent(ctx context.Context, kind string, eventCount int) error

	// RefreshCandidates returns matched, uploaded records for a person that
	// have not yet been used as a reference sample, ordered by distance of
	// their score from targetScore.
	RefreshCandidates(ctx context.Context, person string, targetScore float64) ([]RefreshCandidate, error)
	LastRefreshTime(ctx context.Context) (time.Time, error)
	AddRefreshRecord(ctx context.Context, rec RefreshRecord) error

	// CachedReferenceSet returns the cached reference embeddings for a
	// cache key, or ok=false when the cache is missing or the directory
	// state hash no longer matches.
	CachedReferenceSet(ctx context.Context, cacheKey, filesHash string) ([]ReferenceEmbedding, bool, error)
	SaveReferenceSet(ctx context.Context, cacheKey, filesHash string, refs []ReferenceEmbedding) error

	// Stats returns record counts for the status surface.
	Stats(ctx context.Context) (Stats, error)

	// RecentFiles returns the newest records, most recent first.
	RecentFiles(ctx context.Context, limit int) ([]FileRecord, error)

	Close() error
}

// DedupKey derives the stable per-path identifier. The key is deterministic
// across retries and across both backends: sha256 of the source path,
// truncated to 32 hex characters.
func DedupKey(sourcePath string) string {
	sum := sha256.Sum256([]byte(sourcePath))
	return hex.EncodeToString(sum[:])[:32]
}

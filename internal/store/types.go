package store

import "time"

// FileRecord is the permanent audit trail entry for one observed source
// path. Records are created on first sighting and merged on later writes;
// they are never deleted.
type FileRecord struct {
	DedupKey   string
	SourcePath string
	// ContentHash is the sha256 of the item bytes, set after download and
	// immutable afterwards. Empty for records created before a download
	// completed.
	ContentHash string
	// ContentDuplicate marks a record whose bytes were already known under
	// a different path; such items skip recognition entirely.
	ContentDuplicate bool
	Matched          bool
	Uploaded         bool
	// MatchScore is the best similarity score, nil when recognition did not
	// run (content duplicates, decode failures).
	MatchScore    *float64
	MatchedPerson string
	CreatedAt     time.Time
	UploadedAt    *time.Time
}

// EventKind distinguishes the two review event tables.
type EventKind string

const (
	EventBorderline EventKind = "borderline"
	EventError      EventKind = "error"
)

// Error classifications recorded on error events.
const (
	ErrorTypeProcessing = "processing"
	ErrorTypeUpload     = "upload"
	ErrorTypeSource     = "source"
	ErrorTypeStore      = "store"
)

// Event is a single flagged occurrence. Borderline events carry Score,
// Threshold and ClosestPerson; error events carry ErrorType and Message.
type Event struct {
	ID      string
	Kind    EventKind
	FileRef string

	Score         float64
	Threshold     float64
	ClosestPerson string

	ErrorType string
	Message   string

	Alerted   bool
	CreatedAt time.Time
}

// RefreshCandidate is a historical match considered for promotion into the
// reference set.
type RefreshCandidate struct {
	DedupKey   string
	SourcePath string
	MatchScore float64
	// ScoreDelta is |match_score - target_score|; candidates are returned
	// ordered by it.
	ScoreDelta float64
}

// RefreshRecord is the audit entry for one reference sample added by the
// refresher. Never mutated, retained indefinitely.
type RefreshRecord struct {
	Person      string
	SourcePath  string
	AddedPath   string
	SourceScore float64
	TargetScore float64
	RunAt       time.Time
}

// ReferenceEmbedding is one cached reference-set sample embedding.
type ReferenceEmbedding struct {
	Person    string
	Embedding []float32
}

// Stats summarises the files table for the status surface.
type Stats struct {
	Files         int64
	Matched       int64
	Uploaded      int64
	PendingEvents int64
}

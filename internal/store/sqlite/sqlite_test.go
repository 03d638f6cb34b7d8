package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/photo-courier/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "courier.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddFile_MergeSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := store.DedupKey("cam/a.jpg")
	score := 0.82

	err := s.AddFile(ctx, store.FileRecord{
		DedupKey:    key,
		SourcePath:  "cam/a.jpg",
		ContentHash: "hash-first",
	})
	if err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}

	// A later write never replaces the content hash, only latches flags
	// and fills fields that were missing.
	err = s.AddFile(ctx, store.FileRecord{
		DedupKey:      key,
		SourcePath:    "cam/a.jpg",
		ContentHash:   "hash-second",
		Matched:       true,
		MatchScore:    &score,
		MatchedPerson: "alice",
	})
	if err != nil {
		t.Fatalf("Failed to merge file: %v", err)
	}

	recs, err := s.RecentFiles(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ContentHash != "hash-first" {
		t.Errorf("Expected content hash to stay 'hash-first', got %q", rec.ContentHash)
	}
	if !rec.Matched {
		t.Error("Expected matched flag to latch on")
	}
	if rec.MatchScore == nil || *rec.MatchScore != score {
		t.Errorf("Expected match score %v, got %v", score, rec.MatchScore)
	}
	if rec.MatchedPerson != "alice" {
		t.Errorf("Expected matched person 'alice', got %q", rec.MatchedPerson)
	}

	// A third write without a score must not clear the stored one.
	if err := s.AddFile(ctx, store.FileRecord{DedupKey: key, SourcePath: "cam/a.jpg"}); err != nil {
		t.Fatalf("Failed to re-add file: %v", err)
	}
	recs, _ = s.RecentFiles(ctx, 10)
	if recs[0].MatchScore == nil || *recs[0].MatchScore != score {
		t.Errorf("Expected score to survive empty merge, got %v", recs[0].MatchScore)
	}
	if !recs[0].Matched {
		t.Error("Expected matched flag to survive empty merge")
	}
}

func TestMarkUploaded_WithoutRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := store.DedupKey("cam/orphan.jpg")
	if err := s.MarkUploaded(ctx, key); err != nil {
		t.Fatalf("Expected MarkUploaded to create a stub row, got error: %v", err)
	}

	seen, err := s.Seen(ctx, key)
	if err != nil {
		t.Fatalf("Failed to check seen: %v", err)
	}
	if !seen {
		t.Error("Expected stub row to be visible via Seen")
	}

	recs, err := s.RecentFiles(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(recs) != 1 || !recs[0].Uploaded {
		t.Fatalf("Expected one uploaded stub record, got %+v", recs)
	}
	firstUploadedAt := recs[0].UploadedAt
	if firstUploadedAt == nil {
		t.Fatal("Expected uploaded_at to be set on stub row")
	}

	// Second call is a no-op merge and keeps the original timestamp.
	if err := s.MarkUploaded(ctx, key); err != nil {
		t.Fatalf("Failed to re-mark uploaded: %v", err)
	}
	recs, _ = s.RecentFiles(ctx, 10)
	if recs[0].UploadedAt == nil || !recs[0].UploadedAt.Equal(*firstUploadedAt) {
		t.Errorf("Expected uploaded_at to stay %v, got %v", firstUploadedAt, recs[0].UploadedAt)
	}
}

func TestSeenContent_AcrossPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AddFile(ctx, store.FileRecord{
		DedupKey:    store.DedupKey("cam/original.jpg"),
		SourcePath:  "cam/original.jpg",
		ContentHash: "same-bytes",
	})
	if err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}

	// The same content under a different path is still known.
	seen, err := s.SeenContent(ctx, "same-bytes")
	if err != nil {
		t.Fatalf("Failed to check content: %v", err)
	}
	if !seen {
		t.Error("Expected content hash to be seen regardless of path")
	}

	seen, err = s.SeenContent(ctx, "other-bytes")
	if err != nil {
		t.Fatalf("Failed to check content: %v", err)
	}
	if seen {
		t.Error("Expected unknown content hash to be unseen")
	}

	// Records without a hash must not match the empty string.
	key := store.DedupKey("cam/no-hash.jpg")
	if err := s.AddFile(ctx, store.FileRecord{DedupKey: key, SourcePath: "cam/no-hash.jpg"}); err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}
	seen, err = s.SeenContent(ctx, "")
	if err != nil {
		t.Fatalf("Failed to check empty hash: %v", err)
	}
	if seen {
		t.Error("Expected empty hash to never match")
	}
}

func TestEvents_PendingAndAlerted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().Add(-2 * time.Hour)
	err := s.AddBorderlineEvent(ctx, store.Event{
		ID:            "ev-borderline",
		FileRef:       "cam/b.jpg",
		Score:         0.45,
		Threshold:     0.5,
		ClosestPerson: "bob",
		CreatedAt:     older,
	})
	if err != nil {
		t.Fatalf("Failed to add borderline event: %v", err)
	}
	err = s.AddErrorEvent(ctx, store.Event{
		ID:        "ev-error",
		ErrorType: store.ErrorTypeUpload,
		Message:   "upstream returned 503",
		FileRef:   "cam/c.jpg",
	})
	if err != nil {
		t.Fatalf("Failed to add error event: %v", err)
	}

	pending, err := s.PendingEvents(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending events, got %d", len(pending))
	}
	if pending[0].ID != "ev-borderline" {
		t.Errorf("Expected oldest event first, got %s", pending[0].ID)
	}
	if pending[0].Kind != store.EventBorderline || pending[1].Kind != store.EventError {
		t.Errorf("Expected kinds [borderline error], got [%s %s]", pending[0].Kind, pending[1].Kind)
	}

	if err := s.MarkEventsAlerted(ctx, []string{"ev-borderline", "ev-error"}); err != nil {
		t.Fatalf("Failed to mark events alerted: %v", err)
	}
	pending, err = s.PendingEvents(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending events after alerting, got %d", len(pending))
	}
}

func TestCleanupEvents_KeepsPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -120)
	events := []store.Event{
		{ID: "old-alerted", FileRef: "a", CreatedAt: old},
		{ID: "old-pending", FileRef: "b", CreatedAt: old},
		{ID: "new-alerted", FileRef: "c"},
	}
	for _, ev := range events {
		if err := s.AddBorderlineEvent(ctx, ev); err != nil {
			t.Fatalf("Failed to add event %s: %v", ev.ID, err)
		}
	}
	if err := s.MarkEventsAlerted(ctx, []string{"old-alerted", "new-alerted"}); err != nil {
		t.Fatalf("Failed to mark events alerted: %v", err)
	}

	removed, err := s.CleanupEvents(ctx, 90)
	if err != nil {
		t.Fatalf("Failed to cleanup events: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected exactly 1 event removed, got %d", removed)
	}

	// The pending event survives no matter how old it is.
	pending, err := s.PendingEvents(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "old-pending" {
		t.Errorf("Expected old-pending to survive cleanup, got %+v", pending)
	}
}

func TestAlertBatchBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastAlertTime(ctx)
	if err != nil {
		t.Fatalf("Failed to read last alert time: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("Expected zero time before any batch, got %v", last)
	}

	if err := s.RecordAlertSent(ctx, "batch", 3); err != nil {
		t.Fatalf("Failed to record alert batch: %v", err)
	}
	last, err = s.LastAlertTime(ctx)
	if err != nil {
		t.Fatalf("Failed to read last alert time: %v", err)
	}
	if last.IsZero() || time.Since(last) > time.Minute {
		t.Errorf("Expected recent alert time, got %v", last)
	}
}

func TestRefreshCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	add := func(path string, score float64, person string, uploaded bool) {
		t.Helper()
		err := s.AddFile(ctx, store.FileRecord{
			DedupKey:      store.DedupKey(path),
			SourcePath:    path,
			Matched:       true,
			Uploaded:      uploaded,
			MatchScore:    &score,
			MatchedPerson: person,
		})
		if err != nil {
			t.Fatalf("Failed to add %s: %v", path, err)
		}
	}

	add("cam/far.jpg", 0.95, "alice", true)
	add("cam/close.jpg", 0.67, "alice", true)
	add("cam/not-uploaded.jpg", 0.65, "alice", false)
	add("cam/other-person.jpg", 0.66, "bob", true)
	add("cam/used.jpg", 0.64, "alice", true)

	err := s.AddRefreshRecord(ctx, store.RefreshRecord{
		Person:      "alice",
		SourcePath:  "cam/used.jpg",
		AddedPath:   "/known/alice/refresh_1.jpg",
		SourceScore: 0.64,
		TargetScore: 0.65,
	})
	if err != nil {
		t.Fatalf("Failed to add refresh record: %v", err)
	}

	candidates, err := s.RefreshCandidates(ctx, "alice", 0.65)
	if err != nil {
		t.Fatalf("Failed to list candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}
	if candidates[0].SourcePath != "cam/close.jpg" {
		t.Errorf("Expected closest-to-target first, got %s", candidates[0].SourcePath)
	}
	if candidates[1].SourcePath != "cam/far.jpg" {
		t.Errorf("Expected farthest candidate last, got %s", candidates[1].SourcePath)
	}

	last, err := s.LastRefreshTime(ctx)
	if err != nil {
		t.Fatalf("Failed to read last refresh time: %v", err)
	}
	if last.IsZero() {
		t.Error("Expected non-zero refresh time after a recorded run")
	}
}

func TestReferenceSetCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	refs := []store.ReferenceEmbedding{
		{Person: "alice", Embedding: []float32{0.1, 0.2, 0.3}},
		{Person: "bob", Embedding: []float32{-1, 0, 1}},
	}
	if err := s.SaveReferenceSet(ctx, "known-people", "hash-v1", refs); err != nil {
		t.Fatalf("Failed to save reference set: %v", err)
	}

	got, ok, err := s.CachedReferenceSet(ctx, "known-people", "hash-v1")
	if err != nil {
		t.Fatalf("Failed to load reference set: %v", err)
	}
	if !ok {
		t.Fatal("Expected cache hit for matching hash")
	}
	if len(got) != 2 || got[0].Person != "alice" || got[1].Person != "bob" {
		t.Fatalf("Expected cached persons [alice bob], got %+v", got)
	}
	for i := range refs[0].Embedding {
		if got[0].Embedding[i] != refs[0].Embedding[i] {
			t.Errorf("Embedding value %d mismatch: %v vs %v", i, got[0].Embedding[i], refs[0].Embedding[i])
		}
	}

	// A changed directory hash invalidates the cache.
	_, ok, err = s.CachedReferenceSet(ctx, "known-people", "hash-v2")
	if err != nil {
		t.Fatalf("Failed to query stale cache: %v", err)
	}
	if ok {
		t.Error("Expected cache miss for changed files hash")
	}

	// Saving again replaces the old entry entirely.
	if err := s.SaveReferenceSet(ctx, "known-people", "hash-v2", refs[:1]); err != nil {
		t.Fatalf("Failed to replace reference set: %v", err)
	}
	got, ok, _ = s.CachedReferenceSet(ctx, "known-people", "hash-v2")
	if !ok || len(got) != 1 {
		t.Fatalf("Expected replaced cache with 1 entry, got ok=%v len=%d", ok, len(got))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	score := 0.9
	_ = s.AddFile(ctx, store.FileRecord{DedupKey: "k1", SourcePath: "a", Matched: true, Uploaded: true, MatchScore: &score})
	_ = s.AddFile(ctx, store.FileRecord{DedupKey: "k2", SourcePath: "b"})
	_ = s.AddErrorEvent(ctx, store.Event{ErrorType: store.ErrorTypeSource, Message: "listing failed"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to read stats: %v", err)
	}
	if st.Files != 2 || st.Matched != 1 || st.Uploaded != 1 || st.PendingEvents != 1 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

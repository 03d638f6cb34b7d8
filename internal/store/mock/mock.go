// Package mock provides an in-memory store implementation for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-courier/internal/store"
)

// MockStore is an in-memory implementation of store.Store. It mirrors the
// merge semantics of the real backends so pipeline tests exercise the same
// idempotency guarantees.
type MockStore struct {
	mu      sync.RWMutex
	files   map[string]*store.FileRecord
	events  map[string]*store.Event
	batches []batch
	refresh []store.RefreshRecord
	refSets map[string]refSet

	// Error injection
	SeenError         error
	SeenContentError  error
	AddFileError      error
	MarkUploadedError error
	AddEventError     error
	PendingError      error
	MarkAlertedError  error
	CleanupError      error
	AlertTimeError    error
	RecordAlertError  error
	CandidatesError   error
	RefreshTimeError  error
	AddRefreshError   error
	RefSetError       error
}

type batch struct {
	kind   string
	count  int
	sentAt time.Time
}

type refSet struct {
	filesHash string
	refs      []store.ReferenceEmbedding
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		files:   make(map[string]*store.FileRecord),
		events:  make(map[string]*store.Event),
		refSets: make(map[string]refSet),
	}
}

func (m *MockStore) Seen(ctx context.Context, key string) (bool, error) {
	if m.SeenError != nil {
		return false, m.SeenError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[key]
	return ok, nil
}

func (m *MockStore) SeenContent(ctx context.Context, hash string) (bool, error) {
	if m.SeenContentError != nil {
		return false, m.SeenContentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.files {
		if rec.ContentHash != "" && rec.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) AddFile(ctx context.Context, rec store.FileRecord) error {
	if m.AddFileError != nil {
		return m.AddFileError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.files[rec.DedupKey]
	if !ok {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		cp := rec
		m.files[rec.DedupKey] = &cp
		return nil
	}
	if existing.ContentHash == "" {
		existing.ContentHash = rec.ContentHash
	}
	existing.ContentDuplicate = existing.ContentDuplicate || rec.ContentDuplicate
	existing.Matched = existing.Matched || rec.Matched
	existing.Uploaded = existing.Uploaded || rec.Uploaded
	if rec.MatchScore != nil {
		existing.MatchScore = rec.MatchScore
	}
	if rec.MatchedPerson != "" {
		existing.MatchedPerson = rec.MatchedPerson
	}
	if rec.UploadedAt != nil && existing.UploadedAt == nil {
		existing.UploadedAt = rec.UploadedAt
	}
	return nil
}

func (m *MockStore) MarkUploaded(ctx context.Context, key string) error {
	if m.MarkUploadedError != nil {
		return m.MarkUploadedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	rec, ok := m.files[key]
	if !ok {
		m.files[key] = &store.FileRecord{
			DedupKey:   key,
			Uploaded:   true,
			CreatedAt:  now,
			UploadedAt: &now,
		}
		return nil
	}
	rec.Uploaded = true
	if rec.UploadedAt == nil {
		rec.UploadedAt = &now
	}
	return nil
}

func (m *MockStore) AddBorderlineEvent(ctx context.Context, ev store.Event) error {
	ev.Kind = store.EventBorderline
	return m.addEvent(ev)
}

func (m *MockStore) AddErrorEvent(ctx context.Context, ev store.Event) error {
	ev.Kind = store.EventError
	return m.addEvent(ev)
}

func (m *MockStore) addEvent(ev store.Event) error {
	if m.AddEventError != nil {
		return m.AddEventError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if _, ok := m.events[ev.ID]; ok {
		return nil
	}
	cp := ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *MockStore) PendingEvents(ctx context.Context) ([]store.Event, error) {
	if m.PendingError != nil {
		return nil, m.PendingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pending []store.Event
	for _, ev := range m.events {
		if !ev.Alerted {
			pending = append(pending, *ev)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

func (m *MockStore) MarkEventsAlerted(ctx context.Context, ids []string) error {
	if m.MarkAlertedError != nil {
		return m.MarkAlertedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if ev, ok := m.events[id]; ok {
			ev.Alerted = true
		}
	}
	return nil
}

func (m *MockStore) CleanupEvents(ctx context.Context, retentionDays int) (int64, error) {
	if m.CleanupError != nil {
		return 0, m.CleanupError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var removed int64
	for id, ev := range m.events {
		if ev.Alerted && ev.CreatedAt.Before(cutoff) {
			delete(m.events, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MockStore) LastAlertTime(ctx context.Context) (time.Time, error) {
	if m.AlertTimeError != nil {
		return time.Time{}, m.AlertTimeError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	for _, b := range m.batches {
		if b.sentAt.After(last) {
			last = b.sentAt
		}
	}
	return last, nil
}

func (m *MockStore) RecordAlertSent(ctx context.Context, kind string, eventCount int) error {
	if m.RecordAlertError != nil {
		return m.RecordAlertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch{kind: kind, count: eventCount, sentAt: time.Now()})
	return nil
}

func (m *MockStore) RefreshCandidates(ctx context.Context, person string, targetScore float64) ([]store.RefreshCandidate, error) {
	if m.CandidatesError != nil {
		return nil, m.CandidatesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	used := make(map[string]struct{}, len(m.refresh))
	for _, rec := range m.refresh {
		used[rec.SourcePath] = struct{}{}
	}
	var candidates []store.RefreshCandidate
	for _, rec := range m.files {
		if !rec.Matched || !rec.Uploaded || rec.MatchedPerson != person || rec.MatchScore == nil {
			continue
		}
		if _, ok := used[rec.SourcePath]; ok {
			continue
		}
		delta := *rec.MatchScore - targetScore
		if delta < 0 {
			delta = -delta
		}
		candidates = append(candidates, store.RefreshCandidate{
			DedupKey:   rec.DedupKey,
			SourcePath: rec.SourcePath,
			MatchScore: *rec.MatchScore,
			ScoreDelta: delta,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ScoreDelta < candidates[j].ScoreDelta })
	return candidates, nil
}

func (m *MockStore) LastRefreshTime(ctx context.Context) (time.Time, error) {
	if m.RefreshTimeError != nil {
		return time.Time{}, m.RefreshTimeError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	for _, rec := range m.refresh {
		if rec.RunAt.After(last) {
			last = rec.RunAt
		}
	}
	return last, nil
}

func (m *MockStore) AddRefreshRecord(ctx context.Context, rec store.RefreshRecord) error {
	if m.AddRefreshError != nil {
		return m.AddRefreshError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.RunAt.IsZero() {
		rec.RunAt = time.Now()
	}
	m.refresh = append(m.refresh, rec)
	return nil
}

func (m *MockStore) CachedReferenceSet(ctx context.Context, cacheKey, filesHash string) ([]store.ReferenceEmbedding, bool, error) {
	if m.RefSetError != nil {
		return nil, false, m.RefSetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.refSets[cacheKey]
	if !ok || set.filesHash != filesHash || len(set.refs) == 0 {
		return nil, false, nil
	}
	return append([]store.ReferenceEmbedding(nil), set.refs...), true, nil
}

func (m *MockStore) SaveReferenceSet(ctx context.Context, cacheKey, filesHash string, refs []store.ReferenceEmbedding) error {
	if m.RefSetError != nil {
		return m.RefSetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refSets[cacheKey] = refSet{
		filesHash: filesHash,
		refs:      append([]store.ReferenceEmbedding(nil), refs...),
	}
	return nil
}

func (m *MockStore) Stats(ctx context.Context) (store.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st store.Stats
	st.Files = int64(len(m.files))
	for _, rec := range m.files {
		if rec.Matched {
			st.Matched++
		}
		if rec.Uploaded {
			st.Uploaded++
		}
	}
	for _, ev := range m.events {
		if !ev.Alerted {
			st.PendingEvents++
		}
	}
	return st, nil
}

func (m *MockStore) RecentFiles(ctx context.Context, limit int) ([]store.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]store.FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Events returns a snapshot of all stored events including alerted ones.
func (m *MockStore) Events() []store.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RefreshRecords returns a snapshot of recorded refresh history.
func (m *MockStore) RefreshRecords() []store.RefreshRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]store.RefreshRecord(nil), m.refresh...)
}

// SetEventCreatedAt rewinds an event's timestamp so retention tests can age
// events without sleeping.
func (m *MockStore) SetEventCreatedAt(id string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[id]; ok {
		ev.CreatedAt = t
	}
}

func (m *MockStore) Close() error { return nil }

package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/retry"
	"github.com/kozaktomas/photo-courier/internal/store"
)

// Manager owns the record-now, send-later alert cycle.
type Manager struct {
	st       store.Store
	notifier Notifier
	interval time.Duration
	cfg      *config.AlertingConfig
}

// NewManager creates the alert manager.
func NewManager(st store.Store, notifier Notifier, cfg *config.AlertingConfig) *Manager {
	return &Manager{
		st:       st,
		notifier: notifier,
		interval: time.Duration(cfg.BatchIntervalMinutes) * time.Minute,
		cfg:      cfg,
	}
}

// RecordBorderline stores a borderline match for the next batch.
func (m *Manager) RecordBorderline(ctx context.Context, fileRef string, score, threshold float64, closestPerson string) error {
	return m.st.AddBorderlineEvent(ctx, store.Event{
		FileRef:       fileRef,
		Score:         score,
		Threshold:     threshold,
		ClosestPerson: closestPerson,
	})
}

// RecordError stores a processing failure for the next batch.
func (m *Manager) RecordError(ctx context.Context, errorType, message, fileRef string) error {
	return m.st.AddErrorEvent(ctx, store.Event{
		ErrorType: errorType,
		Message:   message,
		FileRef:   fileRef,
	})
}

// ShouldSend reports whether a batch is due: there are pending events and
// the batch interval has elapsed since the last sent batch. A store that
// has never sent is always due.
func (m *Manager) ShouldSend(ctx context.Context) (bool, error) {
	pending, err := m.st.PendingEvents(ctx)
	if err != nil {
		return false, fmt.Errorf("list pending events: %w", err)
	}
	if len(pending) == 0 {
		return false, nil
	}
	last, err := m.st.LastAlertTime(ctx)
	if err != nil {
		return false, fmt.Errorf("last alert time: %w", err)
	}
	if last.IsZero() {
		return true, nil
	}
	return time.Since(last) >= m.interval, nil
}

// SendPending delivers all pending events as one notification and returns
// how many were sent. Events are marked alerted only after confirmed
// delivery; a failed send leaves everything pending for the next cycle.
func (m *Manager) SendPending(ctx context.Context) (int, error) {
	pending, err := m.st.PendingEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if err := m.deliver(ctx, composeBatch(pending)); err != nil {
		return 0, fmt.Errorf("deliver alert batch: %w", err)
	}

	ids := make([]string, len(pending))
	for i, ev := range pending {
		ids[i] = ev.ID
	}
	if err := m.st.MarkEventsAlerted(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark events alerted: %w", err)
	}
	if err := m.st.RecordAlertSent(ctx, "batch", len(pending)); err != nil {
		return 0, fmt.Errorf("record alert batch: %w", err)
	}
	return len(pending), nil
}

// SendRefreshNotification delivers a reference set update immediately. It
// does not touch the batch schedule.
func (m *Manager) SendRefreshNotification(ctx context.Context, rec store.RefreshRecord) error {
	if err := m.deliver(ctx, composeRefresh(rec)); err != nil {
		return fmt.Errorf("deliver refresh notification: %w", err)
	}
	return nil
}

// deliver pushes one notification with bounded retries; throttled or
// unreachable delivery gets another chance before events stay pending.
func (m *Manager) deliver(ctx context.Context, n Notification) error {
	return retry.Do(ctx, retry.DefaultAttempts, func() error {
		return m.notifier.Send(ctx, n)
	})
}

// Cleanup deletes alerted events older than the retention window and
// returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	return m.st.CleanupEvents(ctx, m.cfg.EventRetentionDays)
}

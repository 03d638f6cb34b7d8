package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kozaktomas/photo-courier/internal/store"
)

func (s *Store) AddBorderlineEvent(ctx context.Context, ev store.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO borderline_events (id, file_ref, match_score, threshold, closest_person, alerted, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.FileRef, ev.Score, ev.Threshold, ev.ClosestPerson, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert borderline event: %w", err)
	}
	return nil
}

func (s *Store) AddErrorEvent(ctx context.Context, ev store.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_events (id, error_type, message, file_ref, alerted, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.ErrorType, ev.Message, ev.FileRef, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert error event: %w", err)
	}
	return nil
}

func (s *Store) PendingEvents(ctx context.Context) ([]store.Event, error) {
	var events []store.Event

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_ref, match_score, threshold, closest_person, created_at
		FROM borderline_events WHERE NOT alerted`)
	if err != nil {
		return nil, fmt.Errorf("pending borderline events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ev := store.Event{Kind: store.EventBorderline}
		if err := rows.Scan(&ev.ID, &ev.FileRef, &ev.Score, &ev.Threshold, &ev.ClosestPerson, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan borderline event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, error_type, message, file_ref, created_at
		FROM error_events WHERE NOT alerted`)
	if err != nil {
		return nil, fmt.Errorf("pending error events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ev := store.Event{Kind: store.EventError}
		if err := rows.Scan(&ev.ID, &ev.ErrorType, &ev.Message, &ev.FileRef, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (s *Store) MarkEventsAlerted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, table := range []string{"borderline_events", "error_events"} {
		query := fmt.Sprintf("UPDATE %s SET alerted = TRUE WHERE id = ANY($1)", table)
		if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
			return fmt.Errorf("mark %s alerted: %w", table, err)
		}
	}
	return nil
}

func (s *Store) CleanupEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var total int64
	for _, table := range []string{"borderline_events", "error_events"} {
		query := fmt.Sprintf("DELETE FROM %s WHERE alerted AND created_at < $1", table)
		res, err := s.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("cleanup %s rows affected: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) LastAlertTime(ctx context.Context) (time.Time, error) {
	var sentAt sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT MAX(sent_at) FROM alert_batches").Scan(&sentAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("last alert time: %w", err)
	}
	if !sentAt.Valid {
		return time.Time{}, nil
	}
	return sentAt.Time, nil
}

func (s *Store) RecordAlertSent(ctx context.Context, kind string, eventCount int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO alert_batches (kind, event_count, sent_at) VALUES ($1, $2, $3)",
		kind, eventCount, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record alert batch: %w", err)
	}
	return nil
}

package alerting

import (
	"fmt"
	"strings"

	"github.com/kozaktomas/photo-courier/internal/store"
)

// composeBatch renders the pending events into one plain-text notification.
// Borderline matches come first, errors after, both oldest first.
func composeBatch(events []store.Event) Notification {
	var borderline, errs []store.Event
	for _, ev := range events {
		if ev.Kind == store.EventBorderline {
			borderline = append(borderline, ev)
		} else {
			errs = append(errs, ev)
		}
	}

	var b strings.Builder
	if len(borderline) > 0 {
		fmt.Fprintf(&b, "Borderline matches (%d):\n", len(borderline))
		for _, ev := range borderline {
			fmt.Fprintf(&b, "- %s: %.2f (threshold %.2f", ev.FileRef, ev.Score, ev.Threshold)
			if ev.ClosestPerson != "" {
				fmt.Fprintf(&b, ", closest %s", ev.ClosestPerson)
			}
			b.WriteString(")\n")
		}
	}
	if len(errs) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Errors (%d):\n", len(errs))
		for _, ev := range errs {
			fmt.Fprintf(&b, "- [%s] %s", ev.ErrorType, ev.Message)
			if ev.FileRef != "" {
				fmt.Fprintf(&b, " (%s)", ev.FileRef)
			}
			b.WriteString("\n")
		}
	}

	var title string
	var priority string
	switch {
	case len(errs) == 0:
		title = fmt.Sprintf("Photo courier: %d borderline matches", len(borderline))
	case len(borderline) == 0:
		title = fmt.Sprintf("Photo courier: %d errors", len(errs))
		priority = "high"
	default:
		title = fmt.Sprintf("Photo courier: %d borderline, %d errors", len(borderline), len(errs))
		priority = "high"
	}

	return Notification{
		Title:    title,
		Message:  strings.TrimRight(b.String(), "\n"),
		Tags:     []string{"photo-courier", "review"},
		Priority: priority,
	}
}

// composeRefresh renders the immediate notice for a reference set update.
func composeRefresh(rec store.RefreshRecord) Notification {
	message := fmt.Sprintf(
		"Added a new reference photo for %s.\nSource: %s (score %.2f, target %.2f)\nSaved as: %s",
		rec.Person, rec.SourcePath, rec.SourceScore, rec.TargetScore, rec.AddedPath,
	)
	return Notification{
		Title:   fmt.Sprintf("Photo courier: reference set updated for %s", rec.Person),
		Message: message,
		Tags:    []string{"photo-courier", "refresh"},
	}
}

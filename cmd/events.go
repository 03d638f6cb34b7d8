package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List pending review events",
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	events, err := st.PendingEvents(context.Background())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No pending events")
		return nil
	}

	for _, ev := range events {
		when := ev.CreatedAt.Format("2006-01-02 15:04")
		switch ev.Kind {
		case store.EventBorderline:
			fmt.Printf("%s  borderline  %.2f (threshold %.2f, closest: %s)  %s\n",
				when, ev.Score, ev.Threshold, ev.ClosestPerson, ev.FileRef)
		case store.EventError:
			fmt.Printf("%s  error       [%s] %s", when, ev.ErrorType, ev.Message)
			if ev.FileRef != "" {
				fmt.Printf("  %s", ev.FileRef)
			}
			fmt.Println()
		}
	}
	fmt.Printf("\n%d pending events\n", len(events))
	return nil
}

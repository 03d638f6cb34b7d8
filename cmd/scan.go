package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan sources and upload matched media",
	Long: `Scan all configured sources for new photos and videos.
Items with a recognized known person are uploaded to the photo service;
everything processed is remembered so the next scan skips it.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Int("interval", 0, "Rescan every N minutes (0 = scan once and exit)")
}

func runScan(cmd *cobra.Command, args []string) error {
	interval := mustGetInt(cmd, "interval")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, finishing up...")
		cancel()
	}()

	rt, err := newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	for {
		if err := runBatch(ctx, rt); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if interval <= 0 {
			return nil
		}
		fmt.Printf("Next scan in %d minutes\n", interval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(interval) * time.Minute):
		}
	}
}

// runBatch is one full cycle: refresh the reference set when due, scan all
// sources, then flush and clean up alerts.
func runBatch(ctx context.Context, rt *runtime) error {
	due, err := rt.refresher.Due(ctx)
	if err != nil {
		return err
	}
	if due {
		added, err := rt.refresher.Run(ctx, rt.sources)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: reference refresh: %v\n", err)
		} else if added > 0 {
			fmt.Printf("Reference set refreshed: %d new samples\n", added)
		}
	}

	res, err := rt.scanner.ScanOnce(ctx, rt.sources)
	if err != nil {
		return err
	}
	fmt.Printf("Scanned %d new items: %d matched, %d uploaded, %d errors\n",
		res.Scanned, res.Matched, res.Uploaded, res.Errored)

	shouldSend, err := rt.alerts.ShouldSend(ctx)
	if err != nil {
		return err
	}
	if shouldSend {
		sent, err := rt.alerts.SendPending(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: alert delivery: %v\n", err)
		} else if sent > 0 {
			fmt.Printf("Sent alert batch with %d events\n", sent)
		}
	}

	if removed, err := rt.alerts.Cleanup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: event cleanup: %v\n", err)
	} else if removed > 0 {
		fmt.Printf("Cleaned up %d old events\n", removed)
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-courier/internal/alerting"
	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/store"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage review event alerts",
}

var alertsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send all pending events as one notification now",
	Long: `Deliver every pending review event in a single notification,
ignoring the batch interval. Events stay pending if delivery fails.`,
	RunE: runAlertsSend,
}

var alertsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old already-alerted events",
	RunE:  runAlertsCleanup,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsSendCmd)
	alertsCmd.AddCommand(alertsCleanupCmd)
}

// openAlertManager wires just the store and notifier; alert commands do not
// need recognition or the upload client.
func openAlertManager() (store.Store, *alerting.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	notifier := alerting.NewNotifier(ntfyTopic(cfg))
	return st, alerting.NewManager(st, notifier, &cfg.Alerting), nil
}

func runAlertsSend(cmd *cobra.Command, args []string) error {
	st, alerts, err := openAlertManager()
	if err != nil {
		return err
	}
	defer st.Close()

	sent, err := alerts.SendPending(context.Background())
	if err != nil {
		return err
	}
	if sent == 0 {
		fmt.Println("No pending events")
		return nil
	}
	fmt.Printf("Sent %d events\n", sent)
	return nil
}

func runAlertsCleanup(cmd *cobra.Command, args []string) error {
	st, alerts, err := openAlertManager()
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := alerts.Cleanup(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d old events\n", removed)
	return nil
}

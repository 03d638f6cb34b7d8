package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-courier/internal/scanner"
	"github.com/kozaktomas/photo-courier/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status web server",
	Long: `Start the Photo Courier web server.
It exposes processing stats, recent records and pending review events,
plus an endpoint to trigger a scan batch on demand.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	scan := func(ctx context.Context) (scanner.BatchResult, error) {
		return rt.scanner.ScanOnce(ctx, rt.sources)
	}
	server := web.NewServer(rt.st, scan, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		cancel()
	}()

	return server.Start()
}

package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photo-courier",
	Short: "Watches media sources and delivers photos of known people",
	Long: `Photo Courier scans configured media sources for new photos and videos,
recognizes known people in them and uploads matches to a PhotoPrism-compatible
photo service. Already-processed items are skipped via a persistent dedup store.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

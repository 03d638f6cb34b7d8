package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the reference set from historical matches",
	Long: `Promote one historical match per person into a new reference sample.
By default the refresh only runs when the configured interval has elapsed
since the last run; --force runs it regardless.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().Bool("force", false, "Run even if the refresh interval has not elapsed")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	force := mustGetBool(cmd, "force")
	ctx := context.Background()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !force {
		due, err := rt.refresher.Due(ctx)
		if err != nil {
			return err
		}
		if !due {
			fmt.Println("Refresh interval has not elapsed yet (use --force to run anyway)")
			return nil
		}
	}

	added, err := rt.refresher.Run(ctx, rt.sources)
	if err != nil {
		return err
	}
	if added == 0 {
		fmt.Println("No suitable candidates found")
		return nil
	}
	fmt.Printf("Added %d new reference samples\n", added)
	return nil
}

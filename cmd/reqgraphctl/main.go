// Command reqgraphctl is a thin operability surface over the request
// tracker core: run a demo request, inject a synthetic filesystem event,
// print invalid node ids, and run garbage collection. It exists purely to
// exercise the tracker end-to-end from outside a test binary — the
// request-tracking core itself has no CLI dependency, per the core's
// explicit non-goal on CLI/logging/reporter setup.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reqgraphctl",
	Short: "Operate a persisted request tracker graph",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "reqgraphctl.yaml", "path to the run config")
	rootCmd.AddCommand(runCmd, eventCmd, statusCmd, gcCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "reqgraphctl:", err)
		os.Exit(1)
	}
}

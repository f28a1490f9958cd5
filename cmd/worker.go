package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"poolbench/internal/runner"
	"poolbench/internal/workload"
)

// workerCmd is spawned by the isolated strategy; it is not meant to be run
// by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve tasks on stdin/stdout for an isolated pool",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv(runner.WorkerEnv) != "1" {
			return cmd.Help()
		}
		return runner.ServeWorker(cmd.Context(), workload.Tasks(), os.Stdin, os.Stdout)
	},
}

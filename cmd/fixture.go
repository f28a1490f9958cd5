package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"poolbench/internal/fixture"
)

var fixtureCmd = &cobra.Command{
	Use:   "fixture",
	Short: "Run the local HTTP fixture server for the http workload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		seed, _ := cmd.Flags().GetInt64("seed")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err := fixture.Start(ctx, fixture.ServerConfig{
			Addr: fmt.Sprintf(":%d", port),
			Seed: seed,
		}, newLogger())
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	fixtureCmd.Flags().IntP("port", "p", 8080, "Port to run the fixture server on")
	fixtureCmd.Flags().Int64("seed", 1, "Seed for latency jitter and error injection")
}

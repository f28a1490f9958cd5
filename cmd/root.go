package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"poolbench/internal/banner"
	"poolbench/internal/cli"
	"poolbench/internal/harness"
	"poolbench/internal/runner"
	"poolbench/internal/stats"
	"poolbench/internal/workload"
)

var (
	cfgFile  string
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "poolbench",
	Short: "poolbench - compare shared-memory and process-isolated worker pools",
	Long: `
poolbench runs the same batch of tasks on two kinds of bounded worker pool
and reports throughput, CPU, memory and latency for each:

1. concurrent: goroutines sharing this process's memory
2. isolated:   child processes exchanging JSON over stdin/stdout`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		exitCode = cli.Start(ctx, cfg, cli.Options{
			JSON:        viper.GetBool("json"),
			Sparkline:   viper.GetBool("sparkline"),
			MetricsAddr: viper.GetString("metrics-addr"),
			StoreDir:    viper.GetString("work-dir"),
			Quiet:       viper.GetBool("quiet"),
			Logger:      newLogger(),
		})
		return nil
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(fixtureCmd)
	rootCmd.AddCommand(workerCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.poolbench.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	addRunFlags(rootCmd.Flags())

	bindFlags(rootCmd.Flags())
	bindFlags(rootCmd.PersistentFlags())
}

// addRunFlags defines the benchmark flags of the root command.
func addRunFlags(f *pflag.FlagSet) {
	defaults := workload.DefaultParams()

	f.StringSliceP("workload", "w", []string{"fib"}, "workloads to run ("+strings.Join(workload.Names(), ", ")+")")
	f.IntP("tasks", "n", 20, "number of tasks per batch")
	f.IntP("workers", "W", 4, "worker bound per pool")
	f.Int("repeat", 1, "replay the generated inputs this many times")
	f.StringP("strategy", "s", "both", "concurrent, isolated or both")
	f.String("sampling", string(stats.PolicyProcessDelta), "CPU sampling policy (process-delta, system-instant)")
	f.Int64("seed", 0, "generator seed (0 picks a time-based seed)")
	f.Duration("task-timeout", 0, "per-task timeout (0 = none)")
	f.Bool("shared-lock", false, "run concurrent tasks under one pool-wide execution lock")
	f.Bool("json", false, "print records as JSON")
	f.Bool("sparkline", false, "add a latency sparkline to text records")
	f.BoolP("quiet", "q", false, "no header or progress bar")
	f.String("work-dir", "", "fixture and session directory (default: temp dir)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while running")

	f.Int("fib-n", defaults.FibN, "fib: n")
	f.Int("file-size", defaults.FileSize, "file-read/file-write: bytes per file")
	f.Duration("sleep", defaults.Sleep, "sleep/spin: per-task duration")
	f.StringSlice("url", nil, "http: target URL, repeatable; supports {{randomInt a b}} style templates")
	f.Duration("http-timeout", defaults.HTTPTimeout, "http: request timeout")
	f.Int("image-size", defaults.ImageSize, "image: side of the generated noise images")
}

// bindFlags makes every flag in fs readable through viper under its own name.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(fl *pflag.Flag) {
		viper.BindPFlag(fl.Name, fl)
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".poolbench")
		}
	}
	viper.SetEnvPrefix("POOLBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// configFromViper resolves flags, env and config file into a harness config.
func configFromViper() (harness.Config, error) {
	kinds, err := runner.ParseKinds(viper.GetString("strategy"))
	if err != nil {
		return harness.Config{}, err
	}
	policy, err := stats.ParsePolicy(viper.GetString("sampling"))
	if err != nil {
		return harness.Config{}, fmt.Errorf("%w: %v", runner.ErrConfiguration, err)
	}

	seed := viper.GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	params := workload.DefaultParams()
	params.Seed = seed
	params.Dir = viper.GetString("work-dir")
	params.FibN = viper.GetInt("fib-n")
	params.FileSize = viper.GetInt("file-size")
	params.Sleep = viper.GetDuration("sleep")
	params.URLs = viper.GetStringSlice("url")
	params.HTTPTimeout = viper.GetDuration("http-timeout")
	params.ImageSize = viper.GetInt("image-size")

	cfg := harness.Config{
		Workloads:   viper.GetStringSlice("workload"),
		Tasks:       viper.GetInt("tasks"),
		Workers:     viper.GetInt("workers"),
		Repeat:      viper.GetInt("repeat"),
		Strategies:  kinds,
		Policy:      policy,
		TaskTimeout: viper.GetDuration("task-timeout"),
		SharedLock:  viper.GetBool("shared-lock"),
		Params:      params,
	}
	return cfg, cfg.Validate()
}

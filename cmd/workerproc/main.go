package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/workerproc/internal/config"
	"github.com/oriys/workerproc/internal/logging"
)

// workerModeEnv, when set on this process's own environment, routes main
// straight into serveWorker instead of ever touching cobra: spawn/bench
// re-exec this same binary as the worker they talk to, the same self-exec
// idiom the test suite uses to avoid building a second binary.
const workerModeEnv = "WORKERPROC_WORKER_MODE"

// logFormatEnv and logLevelEnv carry the parent's resolved logging config
// down to a re-exec'd worker process, so both ends of a spawned pair log
// in the same format at the same level.
const (
	logFormatEnv = "WORKERPROC_LOG_FORMAT"
	logLevelEnv  = "WORKERPROC_LOG_LEVEL"
)

// configPath is bound by rootCmd's persistent --config flag and reused by
// spawnCmd to build lifecycle.SpawnOptions from the same file.
var configPath string

func main() {
	if os.Getenv(workerModeEnv) == "1" {
		logging.InitStructured(os.Getenv(logFormatEnv), os.Getenv(logLevelEnv))
		if err := serveWorker(); err != nil {
			fmt.Fprintln(os.Stderr, "workerproc worker:", err)
			os.Exit(1)
		}
		return
	}

	rootCmd := &cobra.Command{
		Use:   "workerproc",
		Short: "Transparent worker-process RPC engine",
		Long:  "Spawn and call into worker processes over a framed duplex pipe",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a workerproc config file")

	rootCmd.AddCommand(spawnCmd())
	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the shared --config flag into a config.File, falling
// back to config.Default() when no path was given.
func loadConfig() (*config.File, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

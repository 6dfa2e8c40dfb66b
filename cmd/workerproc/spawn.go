package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/config"
	"github.com/oriys/workerproc/internal/lifecycle"
)

// selfAsWorker resolves this binary's own path so spawn/bench can re-exec
// it as a worker, the same self-exec idiom the integration tests use.
func selfAsWorker() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable: %w", err)
	}
	return self, nil
}

func spawnOptionsFromConfig(cfg *config.File) (lifecycle.SpawnOptions, error) {
	mode, err := codec.ParseMode(cfg.Spawn.Serialization)
	if err != nil {
		return lifecycle.SpawnOptions{}, err
	}
	return lifecycle.SpawnOptions{
		Timeout:               cfg.Spawn.Timeout,
		Retries:               cfg.Spawn.Retries,
		Serialization:         mode,
		InitializationTimeout: cfg.Spawn.InitializationTimeout,
		ShutdownTimeout:       cfg.Spawn.ShutdownTimeout,
		MaxFrameBytes:         cfg.Spawn.MaxFrameBytes,
	}, nil
}

func spawnCmd() *cobra.Command {
	var (
		class         string
		method        string
		argsJSON      string
		ctorArgsJSON  string
		timeout       time.Duration
		retries       int
		serialization string
	)

	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn a demo worker process and call a method on it",
		Long: `Spawn re-execs this binary as a worker process (serving the
fixture classes in internal/worker/workertest), calls one method on it,
prints the result, and terminates the worker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := spawnOptionsFromConfig(cfg)
			if err != nil {
				return err
			}

			self, err := selfAsWorker()
			if err != nil {
				return err
			}
			opts.WorkerPath = self
			opts.ClassName = class
			opts.Env = map[string]string{
				workerModeEnv: "1",
				logFormatEnv:  cfg.Logging.Format,
				logLevelEnv:   cfg.Logging.Level,
			}
			if ctorArgsJSON != "" {
				opts.Args = json.RawMessage(ctorArgsJSON)
			}

			if cmd.Flags().Changed("timeout") {
				opts.Timeout = timeout
			}
			if cmd.Flags().Changed("retries") {
				opts.Retries = retries
			}
			if cmd.Flags().Changed("serialization") {
				mode, err := codec.ParseMode(serialization)
				if err != nil {
					return err
				}
				opts.Serialization = mode
			}

			var callArgs []any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("decode --args as a JSON array: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), opts.InitializationTimeout+opts.Timeout)
			defer cancel()

			h, err := lifecycle.Spawn(ctx, opts)
			if err != nil {
				return fmt.Errorf("spawn %s: %w", class, err)
			}
			defer h.Terminate(context.Background())

			if method == "" {
				fmt.Printf("spawned %s, exposed methods: %v\n", class, h.ExposedMethods())
				return nil
			}

			result, err := h.Call(ctx, method, callArgs...)
			if err != nil {
				return fmt.Errorf("call %s.%s: %w", class, method, err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				fmt.Printf("result: %v\n", result)
				return nil
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", "Calculator", "Registered worker class to instantiate")
	cmd.Flags().StringVar(&method, "method", "", "Method to call (omit to just report exposed methods)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Call arguments as a JSON array, e.g. [1,2]")
	cmd.Flags().StringVar(&ctorArgsJSON, "ctor-args", "", "Constructor arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-call timeout (overrides config)")
	cmd.Flags().IntVar(&retries, "retries", 0, "Per-call retry budget (overrides config)")
	cmd.Flags().StringVar(&serialization, "serialization", "", "portable or rich (overrides config)")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledgernode/internal/config"
	"ledgernode/internal/logging"
)

const envFileKey = "env-file"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "ledger-node: %v\n", err)
		return 1
	}
	return 0
}

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "ledger-node",
		Short:         "Runs and inspects a distributed ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := c.PersistentFlags()
	flags.String(envFileKey, ".env", "Optional dotenv file read before LEDGER_* variables")
	config.AddFlags(flags)
	c.AddCommand(runCommand(), demoCommand(), challengeCommand())
	return c
}

// loadConfig resolves defaults, dotenv, environment and flags for c.
func loadConfig(c *cobra.Command) (config.Config, error) {
	flags := c.Flags()
	envFile, err := flags.GetString(envFileKey)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyFlags(flags); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging())
}

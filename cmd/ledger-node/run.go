package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledgernode/internal/daemon"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs a node until interrupted",
		RunE:  runFunc,
	}
}

func runFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	r, err := daemon.NewRunner(cfg, daemon.Options{Logger: log})
	if err != nil {
		log.Error("node init failed", zap.Error(err))
		return err
	}
	return r.Run(c.Context())
}

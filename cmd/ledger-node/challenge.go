package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ledgernode/internal/config"
	"ledgernode/internal/node"
)

func challengeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "challenge",
		Short: "Issues a challenge and answers it with the configured identity",
		RunE:  challengeFunc,
	}
}

func challengeFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return config.ErrMissingIdentity
	}
	reg := node.NewRegistry(node.Options{})
	ch := reg.IssueChallenge()
	resp := node.Respond(ch, cfg.PrivateKey)
	valid := reg.VerifyResponse(ch, resp, cfg.PublicKey)
	replay := reg.VerifyResponse(ch, resp, cfg.PublicKey)

	enc := json.NewEncoder(c.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(ch); err != nil {
		return err
	}
	fmt.Fprintf(c.OutOrStdout(), "response: %s\nvalid: %t\nreplay accepted: %t\n", resp, valid, replay)
	return nil
}

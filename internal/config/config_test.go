package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"ledgernode/internal/consensus"
	"ledgernode/internal/node"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LEDGER_PUBLIC_KEY", "pub")
	t.Setenv("LEDGER_PRIVATE_KEY", "priv")
	t.Setenv("LEDGER_ALGORITHM", "authority")
	t.Setenv("LEDGER_AUTHORITIES", " a, b ,,c")
	t.Setenv("LEDGER_DIFFICULTY", "2")
	t.Setenv("LEDGER_BLOCK_INTERVAL", "3s")
	t.Setenv("LEDGER_NODE_KIND", "Validator")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "pub", cfg.PublicKey)
	require.Equal(t, consensus.ProofOfAuthority, cfg.Algorithm)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Authorities)
	require.Equal(t, 2, cfg.Difficulty)
	require.Equal(t, 3*time.Second, cfg.BlockInterval)
	require.Equal(t, node.KindValidator, cfg.NodeKind)
	require.NoError(t, cfg.Validate())

	cc := cfg.Consensus()
	require.Equal(t, cfg.Authorities, cc.Authorities)
	require.Equal(t, 3*time.Second, cc.BlockInterval)
}

func TestLoadEnvFileDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_PORT=9000\nLEDGER_ADDRESS=10.1.1.1\n"), 0600))
	t.Setenv("LEDGER_ADDRESS", "192.168.0.2")
	// Registered so the variable godotenv sets is cleared after the test.
	t.Setenv("LEDGER_PORT", "")
	require.NoError(t, os.Unsetenv("LEDGER_PORT"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "192.168.0.2", cfg.Address)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("LEDGER_PORT", "seventy")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("LEDGER_PORT", "7000")
	t.Setenv("LEDGER_ALGORITHM", "proof-of-luck")
	_, err = Load("")
	require.Error(t, err)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("LEDGER_DIFFICULTY", "5")
	t.Setenv("LEDGER_PORT", "7100")
	cfg, err := Load("")
	require.NoError(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"--difficulty=1",
		"--algorithm=poa",
		"--authorities=x,y",
		"--public-key=k",
		"--private-key=k",
	}))
	require.NoError(t, cfg.ApplyFlags(flags))
	require.Equal(t, 1, cfg.Difficulty)
	require.Equal(t, 7100, cfg.Port, "unset flag keeps the environment value")
	require.Equal(t, consensus.ProofOfAuthority, cfg.Algorithm)
	require.Equal(t, []string{"x", "y"}, cfg.Authorities)
	require.NoError(t, cfg.Validate())

	bad := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(bad)
	require.NoError(t, bad.Parse([]string{"--algorithm=nope"}))
	require.Error(t, cfg.ApplyFlags(bad))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.True(t, errors.Is(cfg.Validate(), ErrMissingIdentity))

	cfg.PublicKey, cfg.PrivateKey = "k", "k"
	require.NoError(t, cfg.Validate())

	cases := map[string]func(c *Config){
		"kind":       func(c *Config) { c.NodeKind = "archive" },
		"port":       func(c *Config) { c.Port = 70000 },
		"difficulty": func(c *Config) { c.Difficulty = 65 },
		"interval":   func(c *Config) { c.BlockInterval = 0 },
		"pool":       func(c *Config) { c.MaxPending = 0 },
	}
	for name, mutate := range cases {
		c := cfg
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}
}

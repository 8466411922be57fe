// Package config assembles node settings from defaults, an optional .env
// file, LEDGER_* environment variables and command-line flags, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"ledgernode/internal/consensus"
	"ledgernode/internal/ledger"
	"ledgernode/internal/logging"
	"ledgernode/internal/node"
)

const (
	EnvPrefix = "LEDGER_"

	DefaultAddress          = "127.0.0.1"
	DefaultPort             = 7400
	DefaultSnapshotInterval = 30 * time.Second
)

// Flag names; the matching environment variable is LEDGER_ plus the upper
// snake case name.
const (
	PublicKeyKey        = "public-key"
	PrivateKeyKey       = "private-key"
	NodeKindKey         = "node-kind"
	AddressKey          = "address"
	PortKey             = "port"
	AlgorithmKey        = "algorithm"
	DifficultyKey       = "difficulty"
	MinStakeKey         = "min-stake"
	AuthoritiesKey      = "authorities"
	BlockIntervalKey    = "block-interval"
	MaxPendingKey       = "max-pending"
	MaxBlockSizeKey     = "max-block-size"
	JournalKey          = "journal"
	MetricsPathKey      = "metrics-path"
	SnapshotIntervalKey = "snapshot-interval"
	LogLevelKey         = "log-level"
	LogFileKey          = "log-file"
	DiagAddrKey         = "diag-addr"
)

var ErrMissingIdentity = errors.New("missing node identity")

type Config struct {
	PublicKey  string
	PrivateKey string
	NodeKind   node.Kind
	Address    string
	Port       int

	Algorithm     consensus.Algorithm
	Difficulty    int
	MinStake      uint64
	Authorities   []string
	BlockInterval time.Duration

	MaxPending   int
	MaxBlockSize int

	JournalPath      string
	MetricsPath      string
	SnapshotInterval time.Duration

	LogLevel string
	LogFile  string

	// DiagAddr, when set, serves pprof and /metrics on this loopback address.
	DiagAddr string
}

func Default() Config {
	cc := consensus.DefaultConfig()
	return Config{
		NodeKind:         node.KindFull,
		Address:          DefaultAddress,
		Port:             DefaultPort,
		Algorithm:        cc.Algorithm,
		Difficulty:       cc.Difficulty,
		BlockInterval:    cc.BlockInterval,
		MaxPending:       ledger.DefaultMaxPending,
		MaxBlockSize:     ledger.DefaultMaxBlockSize,
		SnapshotInterval: DefaultSnapshotInterval,
		LogLevel:         logging.DefaultLevel,
	}
}

// Load returns defaults overridden by the environment. envFile, when it
// exists, is loaded first without overriding variables already set.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func (c *Config) applyEnv() error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envName(key)); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(envName(key))
		if !ok || err != nil {
			return
		}
		n, perr := strconv.Atoi(strings.TrimSpace(v))
		if perr != nil {
			err = fmt.Errorf("%s: %w", envName(key), perr)
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(envName(key))
		if !ok || err != nil {
			return
		}
		d, perr := time.ParseDuration(strings.TrimSpace(v))
		if perr != nil {
			err = fmt.Errorf("%s: %w", envName(key), perr)
			return
		}
		*dst = d
	}

	str(PublicKeyKey, &c.PublicKey)
	str(PrivateKeyKey, &c.PrivateKey)
	str(AddressKey, &c.Address)
	str(JournalKey, &c.JournalPath)
	str(MetricsPathKey, &c.MetricsPath)
	str(LogLevelKey, &c.LogLevel)
	str(LogFileKey, &c.LogFile)
	str(DiagAddrKey, &c.DiagAddr)
	num(PortKey, &c.Port)
	num(DifficultyKey, &c.Difficulty)
	num(MaxPendingKey, &c.MaxPending)
	num(MaxBlockSizeKey, &c.MaxBlockSize)
	dur(BlockIntervalKey, &c.BlockInterval)
	dur(SnapshotIntervalKey, &c.SnapshotInterval)
	if err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envName(NodeKindKey)); ok {
		c.NodeKind = node.Kind(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := os.LookupEnv(envName(AlgorithmKey)); ok {
		a, perr := consensus.ParseAlgorithm(v)
		if perr != nil {
			return fmt.Errorf("%s: %w", envName(AlgorithmKey), perr)
		}
		c.Algorithm = a
	}
	if v, ok := os.LookupEnv(envName(MinStakeKey)); ok {
		n, perr := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if perr != nil {
			return fmt.Errorf("%s: %w", envName(MinStakeKey), perr)
		}
		c.MinStake = n
	}
	if v, ok := os.LookupEnv(envName(AuthoritiesKey)); ok {
		c.Authorities = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AddFlags registers one flag per setting. Defaults shown in help are the
// built-in defaults; unset flags never override the environment.
func AddFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.String(PublicKeyKey, "", "Public identity string of this node")
	flags.String(PrivateKeyKey, "", "Private identity string used to sign blocks and messages")
	flags.String(NodeKindKey, string(def.NodeKind), "Node kind: validator, miner, full or light")
	flags.String(AddressKey, def.Address, "Advertised network address")
	flags.Int(PortKey, def.Port, "Advertised port")
	flags.String(AlgorithmKey, string(def.Algorithm), "Consensus algorithm: pow, pos, poa or dpos")
	flags.Int(DifficultyKey, def.Difficulty, "Leading zero hex digits required of a block hash")
	flags.Uint64(MinStakeKey, 0, "Minimum stake for proof-of-stake validators")
	flags.StringSlice(AuthoritiesKey, nil, "Authorized validator identities for proof-of-authority")
	flags.Duration(BlockIntervalKey, def.BlockInterval, "Target block interval")
	flags.Int(MaxPendingKey, def.MaxPending, "Pending transaction pool capacity")
	flags.Int(MaxBlockSizeKey, def.MaxBlockSize, "Maximum transactions per block")
	flags.String(JournalKey, "", "Block journal path; empty keeps the chain in memory")
	flags.String(MetricsPathKey, "", "Metrics snapshot JSON path")
	flags.Duration(SnapshotIntervalKey, def.SnapshotInterval, "Metrics snapshot interval")
	flags.String(LogLevelKey, def.LogLevel, "Log level")
	flags.String(LogFileKey, "", "Log file with rotation; empty logs to stderr")
	flags.String(DiagAddrKey, "", "Loopback address for pprof and /metrics; empty disables")
}

// ApplyFlags overrides c with every flag the user set explicitly.
func (c *Config) ApplyFlags(flags *pflag.FlagSet) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case PublicKeyKey:
			c.PublicKey, err = flags.GetString(f.Name)
		case PrivateKeyKey:
			c.PrivateKey, err = flags.GetString(f.Name)
		case NodeKindKey:
			var s string
			s, err = flags.GetString(f.Name)
			c.NodeKind = node.Kind(strings.ToLower(s))
		case AddressKey:
			c.Address, err = flags.GetString(f.Name)
		case PortKey:
			c.Port, err = flags.GetInt(f.Name)
		case AlgorithmKey:
			var s string
			if s, err = flags.GetString(f.Name); err == nil {
				c.Algorithm, err = consensus.ParseAlgorithm(s)
			}
		case DifficultyKey:
			c.Difficulty, err = flags.GetInt(f.Name)
		case MinStakeKey:
			c.MinStake, err = flags.GetUint64(f.Name)
		case AuthoritiesKey:
			c.Authorities, err = flags.GetStringSlice(f.Name)
		case BlockIntervalKey:
			c.BlockInterval, err = flags.GetDuration(f.Name)
		case MaxPendingKey:
			c.MaxPending, err = flags.GetInt(f.Name)
		case MaxBlockSizeKey:
			c.MaxBlockSize, err = flags.GetInt(f.Name)
		case JournalKey:
			c.JournalPath, err = flags.GetString(f.Name)
		case MetricsPathKey:
			c.MetricsPath, err = flags.GetString(f.Name)
		case SnapshotIntervalKey:
			c.SnapshotInterval, err = flags.GetDuration(f.Name)
		case LogLevelKey:
			c.LogLevel, err = flags.GetString(f.Name)
		case LogFileKey:
			c.LogFile, err = flags.GetString(f.Name)
		case DiagAddrKey:
			c.DiagAddr, err = flags.GetString(f.Name)
		}
	})
	return err
}

func (c Config) Validate() error {
	if c.PublicKey == "" || c.PrivateKey == "" {
		return ErrMissingIdentity
	}
	if !c.NodeKind.Valid() {
		return fmt.Errorf("invalid node kind %q", c.NodeKind)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := consensus.ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if c.Difficulty < 0 || c.Difficulty > consensus.MaxDifficulty {
		return fmt.Errorf("difficulty %d out of range [0,%d]", c.Difficulty, consensus.MaxDifficulty)
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("block interval must be positive")
	}
	if c.MaxPending <= 0 || c.MaxBlockSize <= 0 {
		return fmt.Errorf("pool and block limits must be positive")
	}
	return nil
}

func (c Config) Consensus() consensus.Config {
	return consensus.Config{
		Algorithm:     c.Algorithm,
		BlockInterval: c.BlockInterval,
		Difficulty:    c.Difficulty,
		MinStake:      c.MinStake,
		Authorities:   append([]string(nil), c.Authorities...),
	}
}

func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:    c.LogLevel,
		File:     c.LogFile,
		NodeID:   node.DeriveNodeID(c.PublicKey, c.Address, c.Port),
		Sampling: true,
	}
}

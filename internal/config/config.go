// config.go - Configuration management for the shielded pool client
package config

import (
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"shieldedpool/internal/shielded"
	"shieldedpool/internal/transactions/transact"
)

// TierConfig is one proof circuit arity.
type TierConfig struct {
	Inputs  int `yaml:"inputs"`
	Outputs int `yaml:"outputs"`
}

// Config represents the client configuration. Big numbers are decimal strings.
type Config struct {
	// Pool parameters, must match the ledger contract
	Hasher       string       `yaml:"hasher"`
	TreeHeight   int          `yaml:"tree_height"`
	ZeroValue    string       `yaml:"zero_value"`
	MaxExtAmount string       `yaml:"max_ext_amount"`
	MaxFee       string       `yaml:"max_fee"`
	Tiers        []TierConfig `yaml:"tiers"`

	// File paths
	LedgerPath string `yaml:"ledger_path"`
	WalletDir  string `yaml:"wallet_dir"`
	KeyDir     string `yaml:"key_dir"`

	// Logging
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	AuditLogPath string `yaml:"audit_log_path"`

	// Operations
	MetricsAddr      string `yaml:"metrics_addr"`
	ProveTimeoutSecs int    `yaml:"prove_timeout_seconds"`
	ScanCacheSize    int    `yaml:"scan_cache_size"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	p := shielded.DefaultParams()
	tiers := make([]TierConfig, len(transact.DefaultTiers))
	for i, t := range transact.DefaultTiers {
		tiers[i] = TierConfig{Inputs: t.Inputs, Outputs: t.Outputs}
	}
	return &Config{
		Hasher:           p.Hasher.Name(),
		TreeHeight:       p.TreeHeight,
		ZeroValue:        p.ZeroValue.String(),
		MaxExtAmount:     p.MaxExtAmount.String(),
		MaxFee:           p.MaxFee.String(),
		Tiers:            tiers,
		LedgerPath:       "ledger.json",
		WalletDir:        "wallet",
		KeyDir:           "keys",
		LogLevel:         "info",
		LogFile:          "",
		AuditLogPath:     "",
		MetricsAddr:      "",
		ProveTimeoutSecs: 300,
		ScanCacheSize:    1024,
	}
}

// LoadConfig loads configuration from file, writing the defaults when it does not exist.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, errors.Wrap(err, "save default config")
		}
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create config directory")
		}
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "write config file")
}

// Validate checks the configuration, including MAX_EXT_AMOUNT + MAX_FEE < FIELD_SIZE.
func (c *Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if len(c.Tiers) == 0 {
		return errors.New("at least one tier is required")
	}
	for _, t := range c.Tiers {
		if t.Inputs <= 0 || t.Outputs <= 0 {
			return errors.Errorf("tier %dx%d: arities must be positive", t.Inputs, t.Outputs)
		}
	}
	if c.ProveTimeoutSecs <= 0 {
		return errors.New("prove_timeout_seconds must be positive")
	}
	if c.ScanCacheSize <= 0 {
		return errors.New("scan_cache_size must be positive")
	}
	return nil
}

// Params converts the pool section into validated shielded.Params.
func (c *Config) Params() (*shielded.Params, error) {
	h, err := shielded.HasherByName(c.Hasher)
	if err != nil {
		return nil, err
	}
	zero, err := parseBig("zero_value", c.ZeroValue)
	if err != nil {
		return nil, err
	}
	maxExt, err := parseBig("max_ext_amount", c.MaxExtAmount)
	if err != nil {
		return nil, err
	}
	maxFee, err := parseBig("max_fee", c.MaxFee)
	if err != nil {
		return nil, err
	}
	p := &shielded.Params{
		Hasher:       h,
		TreeHeight:   c.TreeHeight,
		ZeroValue:    zero,
		MaxExtAmount: maxExt,
		MaxFee:       maxFee,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// TransactTiers returns the configured tiers.
func (c *Config) TransactTiers() []transact.Tier {
	out := make([]transact.Tier, len(c.Tiers))
	for i, t := range c.Tiers {
		out[i] = transact.Tier{Inputs: t.Inputs, Outputs: t.Outputs}
	}
	return out
}

// ProveTimeout is the deadline given to one proof generation.
func (c *Config) ProveTimeout() time.Duration {
	return time.Duration(c.ProveTimeoutSecs) * time.Second
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Wrapf(shielded.ErrInvalidParams, "%s: %q is not a decimal integer", field, s)
	}
	return v, nil
}

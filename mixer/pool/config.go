package pool

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/holiman/uint256"
	"github.com/kysee/mixpool/mixer/merkle"
)

// Config fixes a pool at deployment time. Denomination, tree depth and the
// proving scheme cannot change for the lifetime of the pool; the recipient
// binding policy is part of the circuit's public-input layout and is not
// safe to flip after deployment.
type Config struct {
	PoolID       string `json:"pool_id"`
	Denomination uint64 `json:"denomination"`
	TreeDepth    int    `json:"tree_depth"`
	RootWindow   int    `json:"root_window"`

	// Withdrawals are refused while the anonymity set is smaller than
	// this; a withdrawal from a pool of one is trivially linkable.
	MinAnonymitySet int `json:"min_anonymity_set"`

	// When set, withdrawal proofs carry a zero recipient binding and the
	// payout destination travels out-of-band.
	HideRecipient bool `json:"hide_recipient"`

	WithdrawFee uint64 `json:"withdraw_fee"`

	Scheme    string `json:"scheme"` // "groth16" or "plonk"
	StatePath string `json:"state_path"`
	LogLevel  string `json:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		PoolID:          "mixpool-dev",
		Denomination:    1_000_000,
		TreeDepth:       20,
		RootWindow:      merkle.DefaultRootWindow,
		MinAnonymitySet: 2,
		WithdrawFee:     0,
		Scheme:          "groth16",
		StatePath:       "pool_state.rlp",
		LogLevel:        "info",
	}
}

// LoadConfig reads a JSON config file, or returns defaults when the file
// does not exist.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(bz, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Denomination == 0 {
		return fmt.Errorf("denomination must be positive")
	}
	if c.TreeDepth < 1 || c.TreeDepth > merkle.MaxDepth {
		return fmt.Errorf("tree depth must be in [1,%d], got %d", merkle.MaxDepth, c.TreeDepth)
	}
	if c.RootWindow < 1 {
		return fmt.Errorf("root window must be at least 1")
	}
	if c.MinAnonymitySet < 1 {
		return fmt.Errorf("min anonymity set must be at least 1")
	}
	if uint64(c.WithdrawFee) >= c.Denomination {
		return fmt.Errorf("withdraw fee %d consumes the whole denomination %d",
			c.WithdrawFee, c.Denomination)
	}
	if c.Scheme != "groth16" && c.Scheme != "plonk" {
		return fmt.Errorf("unknown proving scheme %q", c.Scheme)
	}
	return nil
}

func (c *Config) denomination() *uint256.Int {
	return uint256.NewInt(c.Denomination)
}

func (c *Config) payout() *uint256.Int {
	return uint256.NewInt(c.Denomination - c.WithdrawFee)
}

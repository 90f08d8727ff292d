// Package config loads the TOML runtime configuration for the staking
// engine and its reference pool.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"loopstake/crypto"
	"loopstake/native/leverage"
	"loopstake/native/pool"
)

// Config is the top-level runtime configuration.
type Config struct {
	Service     string `toml:"Service"`
	Environment string `toml:"Environment"`
	// Treasury is the bech32 fee recipient address.
	Treasury string `toml:"Treasury"`
	Engine   Engine `toml:"engine"`
	Pool     Pool   `toml:"pool"`
}

// Engine carries the position-engine limits. Wei and wad quantities are
// decimal strings so values above 64 bits survive the round trip.
type Engine struct {
	MinDeposit              string `toml:"MinDeposit"`
	EntryFeeBps             uint64 `toml:"EntryFeeBps"`
	ExitFeeBps              uint64 `toml:"ExitFeeBps"`
	MinLeverageWad          string `toml:"MinLeverageWad"`
	MaxLeverageWad          string `toml:"MaxLeverageWad"`
	MinHealthFactorWad      string `toml:"MinHealthFactorWad"`
	MaxLoops                int    `toml:"MaxLoops"`
	UnboundedAllowance      bool   `toml:"UnboundedAllowance"`
	ProceedsFromLiveBalance bool   `toml:"ProceedsFromLiveBalance"`
}

// Pool carries the reference pool's risk limits.
type Pool struct {
	MaxLTVBps               uint64 `toml:"MaxLTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	MinWithdrawHealthWad    string `toml:"MinWithdrawHealthWad"`
}

// Default returns the reference deployment configuration.
func Default() *Config {
	return &Config{
		Service:     "loopstake",
		Environment: "local",
		Engine: Engine{
			MinDeposit:         "10000",
			EntryFeeBps:        leverage.EntryFeeBps,
			ExitFeeBps:         leverage.ExitFeeBps,
			MinLeverageWad:     "1000000000000000000",
			MaxLeverageWad:     "3000000000000000000",
			MinHealthFactorWad: "1500000000000000000",
			MaxLoops:           leverage.MaxLoops,
		},
		Pool: Pool{
			MaxLTVBps:               6_600,
			LiquidationThresholdBps: 10_000,
			MinWithdrawHealthWad:    "750000000000000000",
		},
	}
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects limits that could not be enforced at runtime.
func (c *Config) Validate() error {
	if c.Engine.EntryFeeBps > 10_000 || c.Engine.ExitFeeBps > 10_000 {
		return fmt.Errorf("config: fee basis points exceed 100%%")
	}
	if c.Engine.MaxLoops < 1 {
		return fmt.Errorf("config: MaxLoops must be at least 1")
	}
	minLev, err := parseWei("MinLeverageWad", c.Engine.MinLeverageWad)
	if err != nil {
		return err
	}
	maxLev, err := parseWei("MaxLeverageWad", c.Engine.MaxLeverageWad)
	if err != nil {
		return err
	}
	if minLev.Gt(maxLev) {
		return fmt.Errorf("config: MinLeverageWad exceeds MaxLeverageWad")
	}
	if _, err := parseWei("MinHealthFactorWad", c.Engine.MinHealthFactorWad); err != nil {
		return err
	}
	if _, err := parseWei("MinDeposit", c.Engine.MinDeposit); err != nil {
		return err
	}
	if c.Pool.MaxLTVBps > 10_000 || c.Pool.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("config: pool basis points exceed 100%%")
	}
	if _, err := parseWei("MinWithdrawHealthWad", c.Pool.MinWithdrawHealthWad); err != nil {
		return err
	}
	if strings.TrimSpace(c.Treasury) != "" {
		if _, err := crypto.DecodeAddress(c.Treasury); err != nil {
			return fmt.Errorf("config: invalid Treasury address: %w", err)
		}
	}
	return nil
}

// EngineParams converts the engine section into runtime parameters.
func (c *Config) EngineParams() (leverage.Params, error) {
	minDeposit, err := parseWei("MinDeposit", c.Engine.MinDeposit)
	if err != nil {
		return leverage.Params{}, err
	}
	minLev, err := parseWei("MinLeverageWad", c.Engine.MinLeverageWad)
	if err != nil {
		return leverage.Params{}, err
	}
	maxLev, err := parseWei("MaxLeverageWad", c.Engine.MaxLeverageWad)
	if err != nil {
		return leverage.Params{}, err
	}
	minHealth, err := parseWei("MinHealthFactorWad", c.Engine.MinHealthFactorWad)
	if err != nil {
		return leverage.Params{}, err
	}
	return leverage.Params{
		MinDeposit:              minDeposit,
		EntryFeeBps:             c.Engine.EntryFeeBps,
		ExitFeeBps:              c.Engine.ExitFeeBps,
		MinLeverageWad:          minLev,
		MaxLeverageWad:          maxLev,
		MinHealthFactorWad:      minHealth,
		MaxLoops:                c.Engine.MaxLoops,
		UnboundedAllowance:      c.Engine.UnboundedAllowance,
		ProceedsFromLiveBalance: c.Engine.ProceedsFromLiveBalance,
	}, nil
}

// PoolParams converts the pool section into risk parameters.
func (c *Config) PoolParams() (pool.RiskParams, error) {
	minHealth, err := parseWei("MinWithdrawHealthWad", c.Pool.MinWithdrawHealthWad)
	if err != nil {
		return pool.RiskParams{}, err
	}
	return pool.RiskParams{
		MaxLTVBps:               c.Pool.MaxLTVBps,
		LiquidationThresholdBps: c.Pool.LiquidationThresholdBps,
		MinWithdrawHealthWad:    minHealth,
	}, nil
}

// TreasuryAddress decodes the configured treasury, or the zero address when
// unset.
func (c *Config) TreasuryAddress() (crypto.Address, error) {
	if strings.TrimSpace(c.Treasury) == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(c.Treasury)
}

func parseWei(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("config: %s is required", field)
	}
	parsed, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", field, err)
	}
	return parsed, nil
}

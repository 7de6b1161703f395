package state

import (
	"MetLev/internal/errs"
	"fmt"
	"sort"
)

// MaxLiquidationPenaltyBps caps the liquidator's cut at 20% of proceeds.
const MaxLiquidationPenaltyBps = 2_000

// CollateralConfig holds the risk parameters of one accepted collateral
// asset. All ratios are basis points.
type CollateralConfig struct {
	Mint                 string
	Oracle               string
	MaxLTV               uint16
	LiquidationThreshold uint16
	LiquidationPenalty   uint16
	MinDeposit           uint64
	InterestRateBps      uint16
	OracleMaxAge         uint64 // seconds
	Decimals             uint8
	Enabled              bool
}

// Validate checks the threshold ordering and the penalty cap.
func (c *CollateralConfig) Validate() error {
	if c.Mint == "" {
		return fmt.Errorf("collateral mint is empty: %w", errs.ErrInvalidCollateralType)
	}
	if c.LiquidationThreshold <= c.MaxLTV {
		return fmt.Errorf("%s: threshold %d <= max_ltv %d: %w",
			c.Mint, c.LiquidationThreshold, c.MaxLTV, errs.ErrInvalidLiquidationThreshold)
	}
	if c.LiquidationPenalty > MaxLiquidationPenaltyBps {
		return fmt.Errorf("%s: liquidation penalty %d > %d: %w",
			c.Mint, c.LiquidationPenalty, MaxLiquidationPenaltyBps, errs.ErrInvalidAmount)
	}
	return nil
}

// ValidateLTV reports whether ltv is within the opening limit.
func (c *CollateralConfig) ValidateLTV(ltv uint64) bool {
	return ltv <= uint64(c.MaxLTV)
}

// IsLiquidatable reports whether ltv has reached the liquidation threshold.
func (c *CollateralConfig) IsLiquidatable(ltv uint64) bool {
	return ltv >= uint64(c.LiquidationThreshold)
}

// RequireEnabled fails with ErrInvalidCollateralType for disabled assets.
func (c *CollateralConfig) RequireEnabled() error {
	if !c.Enabled {
		return fmt.Errorf("collateral %s is disabled: %w", c.Mint, errs.ErrInvalidCollateralType)
	}
	return nil
}

func (c *CollateralConfig) Clone() *CollateralConfig {
	cp := *c
	return &cp
}

// update applies fn to a copy and commits it only if the result validates.
func (c *CollateralConfig) update(fn func(*CollateralConfig)) error {
	next := *c
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func (c *CollateralConfig) SetEnabled(enabled bool) error {
	return c.update(func(n *CollateralConfig) { n.Enabled = enabled })
}

func (c *CollateralConfig) SetLTVParams(maxLTV, threshold uint16) error {
	return c.update(func(n *CollateralConfig) {
		n.MaxLTV = maxLTV
		n.LiquidationThreshold = threshold
	})
}

func (c *CollateralConfig) SetLiquidationPenalty(penalty uint16) error {
	return c.update(func(n *CollateralConfig) { n.LiquidationPenalty = penalty })
}

func (c *CollateralConfig) SetMinDeposit(minDeposit uint64) error {
	return c.update(func(n *CollateralConfig) { n.MinDeposit = minDeposit })
}

func (c *CollateralConfig) SetOracle(oracle string, maxAge uint64) error {
	return c.update(func(n *CollateralConfig) {
		n.Oracle = oracle
		n.OracleMaxAge = maxAge
	})
}

// CollateralRegistry holds one config per mint. Entries are never deleted.
type CollateralRegistry struct {
	configs map[string]*CollateralConfig
}

func NewCollateralRegistry() *CollateralRegistry {
	return &CollateralRegistry{configs: make(map[string]*CollateralConfig)}
}

// Register validates and inserts a new config. New configs start enabled.
func (r *CollateralRegistry) Register(cfg *CollateralConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("register collateral: %w", err)
	}
	if _, exists := r.configs[cfg.Mint]; exists {
		return fmt.Errorf("collateral %s already registered: %w", cfg.Mint, errs.ErrInvalidCollateralType)
	}
	cfg.Enabled = true
	r.configs[cfg.Mint] = cfg
	return nil
}

func (r *CollateralRegistry) Get(mint string) (*CollateralConfig, bool) {
	cfg, ok := r.configs[mint]
	return cfg, ok
}

// Set replaces a config; the caller has already validated it.
func (r *CollateralRegistry) Set(cfg *CollateralConfig) {
	r.configs[cfg.Mint] = cfg
}

// All returns configs sorted by mint.
func (r *CollateralRegistry) All() []*CollateralConfig {
	out := make([]*CollateralConfig, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

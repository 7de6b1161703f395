package config

import (
	"MetLev/internal/event"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// bootstrapNamespace derives request IDs for bootstrap events so that a
// restart re-submits the same requests and they resolve as duplicates.
var bootstrapNamespace = uuid.MustParse("a3c6f1e2-7d4b-4e59-8f0a-2b9c1d6e4f37")

// CollateralEntry is one asset in the collateral bootstrap file.
type CollateralEntry struct {
	Mint                 string `yaml:"mint"`
	Oracle               string `yaml:"oracle"`
	MaxLTV               uint16 `yaml:"max_ltv"`
	LiquidationThreshold uint16 `yaml:"liquidation_threshold"`
	LiquidationPenalty   uint16 `yaml:"liquidation_penalty"`
	MinDeposit           uint64 `yaml:"min_deposit"`
	InterestRateBps      uint16 `yaml:"interest_rate_bps"`
	OracleMaxAge         uint64 `yaml:"oracle_max_age"`
	Decimals             uint8  `yaml:"decimals"`
}

// CollateralFile is the YAML document listing collateral to register at
// startup:
//
//	collateral:
//	  - mint: SOL
//	    oracle: SOL/USD
//	    max_ltv: 7500
//	    liquidation_threshold: 8000
//	    liquidation_penalty: 500
//	    min_deposit: 1000000
//	    oracle_max_age: 60
//	    decimals: 9
type CollateralFile struct {
	Collateral []CollateralEntry `yaml:"collateral"`
}

// LoadCollateralFile reads and checks a collateral bootstrap file. Risk
// parameter bounds are left to the core.
func LoadCollateralFile(path string) (*CollateralFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collateral file: %w", err)
	}
	return ParseCollateral(data)
}

func ParseCollateral(data []byte) (*CollateralFile, error) {
	var f CollateralFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse collateral file: %w", err)
	}
	seen := make(map[string]bool, len(f.Collateral))
	for i, c := range f.Collateral {
		if c.Mint == "" {
			return nil, fmt.Errorf("collateral[%d]: missing mint", i)
		}
		if c.Oracle == "" {
			return nil, fmt.Errorf("collateral %s: missing oracle", c.Mint)
		}
		if seen[c.Mint] {
			return nil, fmt.Errorf("collateral %s: listed twice", c.Mint)
		}
		seen[c.Mint] = true
	}
	return &f, nil
}

// Events turns the file into CollateralRegistered events signed by
// authority.
func (f *CollateralFile) Events(authority uuid.UUID, timestamp int64) []*event.CollateralRegistered {
	out := make([]*event.CollateralRegistered, 0, len(f.Collateral))
	for _, c := range f.Collateral {
		out = append(out, &event.CollateralRegistered{
			RequestID:            uuid.NewSHA1(bootstrapNamespace, []byte("collateral:"+c.Mint)),
			Signer:               authority,
			Mint:                 c.Mint,
			Oracle:               c.Oracle,
			MaxLTV:               c.MaxLTV,
			LiquidationThreshold: c.LiquidationThreshold,
			LiquidationPenalty:   c.LiquidationPenalty,
			MinDeposit:           c.MinDeposit,
			InterestRateBps:      c.InterestRateBps,
			OracleMaxAge:         c.OracleMaxAge,
			Decimals:             c.Decimals,
			Timestamp:            timestamp,
		})
	}
	return out
}

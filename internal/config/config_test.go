package config_test

import (
	"MetLev/internal/config"
	"MetLev/internal/state"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, "USDC", cfg.BaseAsset)
	assert.Equal(t, "SOL", cfg.AMM.Pair.Other)
	assert.Equal(t, state.DefaultLiquidationPolicy(), cfg.Policy)
	assert.Equal(t, uuid.Nil, cfg.Authority)
	assert.NotEqual(t, uuid.Nil, cfg.KeeperID)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	authority := uuid.New()
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"METLEV_GRPC_ADDR=:7000\n"+
			"METLEV_AUTHORITY="+authority.String()+"\n"+
			"METLEV_KEEPER_INTERVAL=250ms\n"+
			"METLEV_PENALTY_BASE=surplus\n"), 0o600))

	// the process environment wins over the file
	t.Setenv("METLEV_GRPC_ADDR", ":7100")
	t.Setenv("METLEV_REMAINDER_RECIPIENT", "pool")
	t.Setenv("METLEV_AMM_BIN_STEP", "100")
	t.Setenv("METLEV_SEIZE_SLIPPAGE_BPS", "350")

	cfg, err := config.Load(envFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		os.Unsetenv("METLEV_AUTHORITY")
		os.Unsetenv("METLEV_KEEPER_INTERVAL")
		os.Unsetenv("METLEV_PENALTY_BASE")
	})

	assert.Equal(t, ":7100", cfg.GRPCAddr)
	assert.Equal(t, authority, cfg.Authority)
	assert.Equal(t, 250*time.Millisecond, cfg.KeeperInterval)
	assert.Equal(t, state.PenaltyOnSurplus, cfg.Policy.PenaltyBase)
	assert.Equal(t, state.RecipientPool, cfg.Policy.RemainderRecipient)
	assert.Equal(t, uint16(100), cfg.AMM.BinStep)
	assert.Equal(t, uint16(350), cfg.Policy.SeizeSlippageBps)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"METLEV_AUTHORITY":          "not-a-uuid",
		"METLEV_PENALTY_BASE":       "gross",
		"METLEV_PENALTY_RECIPIENT":  "treasury",
		"METLEV_SEIZE_SLIPPAGE_BPS": "10000",
		"METLEV_PERSIST_BATCH_SIZE": "0",
		"METLEV_COLLATERAL_FILE":    "collateral.yaml", // without an authority
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

const collateralYAML = `
collateral:
  - mint: SOL
    oracle: SOL/USD
    max_ltv: 7500
    liquidation_threshold: 8000
    liquidation_penalty: 500
    min_deposit: 1000000
    oracle_max_age: 60
    decimals: 9
  - mint: JUP
    oracle: JUP/USD
    max_ltv: 5000
    liquidation_threshold: 6000
    liquidation_penalty: 800
    oracle_max_age: 30
    decimals: 6
`

func TestLoadCollateralFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collateral.yaml")
	require.NoError(t, os.WriteFile(path, []byte(collateralYAML), 0o600))

	f, err := config.LoadCollateralFile(path)
	require.NoError(t, err)
	require.Len(t, f.Collateral, 2)
	assert.Equal(t, uint16(8_000), f.Collateral[0].LiquidationThreshold)
	assert.Equal(t, uint64(30), f.Collateral[1].OracleMaxAge)

	authority := uuid.New()
	events := f.Events(authority, 1_700_000_000)
	require.Len(t, events, 2)
	assert.Equal(t, "SOL", events[0].Mint)
	assert.Equal(t, authority, events[0].Signer)
	assert.Equal(t, int64(1_700_000_000), events[0].Timestamp)
	assert.Equal(t, uint8(9), events[0].Decimals)

	// request ids are stable across restarts and distinct per mint
	again := f.Events(authority, 1_800_000_000)
	assert.Equal(t, events[0].RequestID, again[0].RequestID)
	assert.NotEqual(t, events[0].RequestID, events[1].RequestID)

	_, err = config.LoadCollateralFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseCollateral_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"no mint":   "collateral:\n  - oracle: SOL/USD\n",
		"no oracle": "collateral:\n  - mint: SOL\n",
		"duplicate": "collateral:\n  - {mint: SOL, oracle: A}\n  - {mint: SOL, oracle: B}\n",
		"bad yaml":  "collateral: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParseCollateral([]byte(doc))
			assert.Error(t, err)
		})
	}
}

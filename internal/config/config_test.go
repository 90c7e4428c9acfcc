package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memetrader/internal/domain"
	"memetrader/internal/execution"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProviderMock, cfg.MarketData)
	assert.Equal(t, execution.ModeConfirm, cfg.Pipeline.Execution.Mode)
}

func TestLoadWith_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
market_data: mock
scoring:
  buy_threshold: 0.8
  sell_threshold: 0.2
risk:
  max_open_positions: 3
  cooldown: 10m
trading:
  ack_policy: auto_reject
live:
  interval: 30s
  universe: [MINT_A, MINT_B]
mock:
  seed: 7
`)
	cfg, err := LoadWith(path, env(map[string]string{
		"TRADING_MODE":  "AUTO",
		"SIGNER_PUBKEY": "11111111111111111111111111111111",
		"MOCK_SEED":     "42",
		"POSTGRES_DSN":  "postgres://localhost/db",
	}))
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Pipeline.Scoring.BuyThreshold)
	assert.Equal(t, 3, cfg.Pipeline.Risk.MaxOpenPositions)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.Risk.Cooldown)
	assert.Equal(t, execution.AckAutoReject, cfg.Pipeline.Execution.AckPolicy)
	assert.Equal(t, execution.ModeAuto, cfg.Pipeline.Execution.Mode)
	assert.Equal(t, 30*time.Second, cfg.Live.Interval)
	assert.Equal(t, []string{"MINT_A", "MINT_B"}, cfg.Live.Universe)
	assert.Equal(t, uint64(42), cfg.Mock.Seed, "env overrides file")
	assert.Equal(t, "postgres://localhost/db", cfg.Storage.PostgresDSN)

	// Unset fields keep their defaults.
	assert.Equal(t, Default().Pipeline.Risk.PositionSizeUSD, cfg.Pipeline.Risk.PositionSizeUSD)
}

func TestLoadWith_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		env   map[string]string
		field string
	}{
		{"unknown market provider", "", map[string]string{"MARKET_DATA": "coingecko"}, "MARKET_DATA"},
		{"unknown chain provider", "", map[string]string{"CHAIN_INTEL": "solscan"}, "CHAIN_INTEL"},
		{"birdeye without key", "", map[string]string{"MARKET_DATA": "birdeye"}, "BIRDEYE_API_KEY"},
		{"helius without rpc", "", map[string]string{"CHAIN_INTEL": "helius"}, "HELIUS_RPC_URL"},
		{"auto without signer", "", map[string]string{"TRADING_MODE": "auto"}, "trading.signer_pubkey"},
		{"bad signer", "", map[string]string{"TRADING_MODE": "auto", "SIGNER_PUBKEY": "not-base58!"}, "trading.signer_pubkey"},
		{"unknown mode", "", map[string]string{"TRADING_MODE": "yolo"}, "trading.mode"},
		{"bad seed", "", map[string]string{"MOCK_SEED": "x"}, "MOCK_SEED"},
		{"thresholds inverted", "scoring:\n  buy_threshold: 0.2\n  sell_threshold: 0.5\n", nil, "scoring.sell_threshold"},
		{"unknown weight", "scoring:\n  weights:\n    vibes: 1\n", nil, "scoring.weights"},
		{"slot ticks need ws", "live:\n  slot_ticks: 4\n", map[string]string{"CHAIN_INTEL": "helius", "HELIUS_RPC_URL": "http://rpc"}, "HELIUS_WS_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}
			_, err := LoadWith(path, env(tt.env))
			require.Error(t, err)
			var cerr *domain.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestLoadWith_UnknownYAMLField(t *testing.T) {
	path := writeConfig(t, "scoring:\n  buy_treshold: 0.9\n")
	_, err := LoadWith(path, env(nil))
	require.Error(t, err)
	assert.False(t, domain.IsConfigurationError(err))
}

func TestLoadWith_MissingFile(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	require.Error(t, err)
}

func TestHash_IgnoresSecretsAndEndpoints(t *testing.T) {
	a := Default()
	b := Default()
	b.Birdeye.APIKey = "secret"
	b.Helius.RPCURL = "https://rpc.example"
	b.Storage.PostgresDSN = "postgres://x"
	b.Log.Level = "debug"

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	b.Pipeline.Scoring.BuyThreshold = 0.9
	hc, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().MarketData, cfg.MarketData)
}

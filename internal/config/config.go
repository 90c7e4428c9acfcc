// Package config loads run configuration from a YAML file, an optional
// .env file and environment overrides. The result is validated once and
// then passed by value.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/execution"
	"memetrader/internal/idhash"
	"memetrader/internal/pipeline"
	"memetrader/internal/provider/birdeye"
	"memetrader/internal/provider/cache"
	"memetrader/internal/provider/helius"
	"memetrader/internal/provider/mock"
)

// Provider names.
const (
	ProviderMock    = "mock"
	ProviderBirdeye = "birdeye"
	ProviderHelius  = "helius"
)

// Storage holds optional database endpoints. Empty disables a store.
type Storage struct {
	PostgresDSN   string `yaml:"postgres_dsn" json:"-"`
	ClickhouseDSN string `yaml:"clickhouse_dsn" json:"-"`
}

// Live configures the live poll loop.
type Live struct {
	Interval  time.Duration `yaml:"interval" json:"interval"`     // tick period when slot ticks are off
	SlotTicks int64         `yaml:"slot_ticks" json:"slot_ticks"` // tick every N slots over the websocket, 0 disables
	MaxTicks  int           `yaml:"max_ticks" json:"max_ticks"`   // 0 runs until interrupted
	Capture   bool          `yaml:"capture" json:"capture"`       // write snapshots.jsonl
	Fsync     bool          `yaml:"fsync" json:"fsync"`
	Universe  []string      `yaml:"universe" json:"universe"` // fixed mint list; empty uses the market provider's list
}

// Server configures the control API.
type Server struct {
	Addr string `yaml:"addr" json:"-"` // empty disables the server
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" json:"-"`
	Format string `yaml:"format" json:"-"` // console, json or auto
}

// Config is the full run configuration.
type Config struct {
	MarketData string `yaml:"market_data" json:"market_data"`
	ChainIntel string `yaml:"chain_intel" json:"chain_intel"`

	Pipeline pipeline.Config      `yaml:",inline" json:"pipeline"`
	Mock     mock.Config          `yaml:"mock" json:"mock"`
	Birdeye  birdeye.Config       `yaml:"birdeye" json:"birdeye"`
	Helius   helius.Config        `yaml:"helius" json:"helius"`
	Cache    cache.Config         `yaml:"cache" json:"cache"`
	Dataset  dataset.CandleConfig `yaml:"dataset" json:"dataset"`
	Live     Live                 `yaml:"live" json:"live"`
	Storage  Storage              `yaml:"storage" json:"-"`
	Server   Server               `yaml:"server" json:"-"`
	Log      Log                  `yaml:"log" json:"-"`
}

// Default returns the configuration used when no file or env is given:
// mock providers in confirm mode.
func Default() Config {
	return Config{
		MarketData: ProviderMock,
		ChainIntel: ProviderMock,
		Pipeline:   pipeline.DefaultConfig(),
		Mock:       mock.DefaultConfig(),
		Birdeye:    birdeye.DefaultConfig(),
		Helius:     helius.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
		Dataset:    dataset.DefaultCandleConfig(),
		Live: Live{
			Interval: 15 * time.Second,
		},
		Log: Log{Level: "info", Format: "auto"},
	}
}

// Load reads .env from the working directory if present, then the YAML
// file at path (optional), then environment overrides, and validates.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup and no .env file.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without reading the environment.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(b), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("MARKET_DATA", &c.MarketData)
	str("CHAIN_INTEL", &c.ChainIntel)
	var mode, ack string
	str("TRADING_MODE", &mode)
	str("ACK_POLICY", &ack)
	if mode != "" {
		c.Pipeline.Execution.Mode = execution.Mode(strings.ToLower(mode))
	}
	if ack != "" {
		c.Pipeline.Execution.AckPolicy = execution.AckPolicy(strings.ToLower(ack))
	}
	str("SIGNER_PUBKEY", &c.Pipeline.Execution.SignerPubkey)
	str("BIRDEYE_API_KEY", &c.Birdeye.APIKey)
	str("HELIUS_RPC_URL", &c.Helius.RPCURL)
	str("HELIUS_WS_URL", &c.Helius.WSURL)
	str("REDIS_ADDR", &c.Cache.Addr)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickhouseDSN)
	str("SERVER_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("MOCK_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return &domain.ConfigurationError{Field: "MOCK_SEED", Reason: err.Error()}
		}
		c.Mock.Seed = seed
	}
	return nil
}

// Validate checks provider selection and every stage. Credentials are only
// required for the providers in use.
func (c Config) Validate() error {
	switch c.MarketData {
	case ProviderMock:
	case ProviderBirdeye:
		if err := c.Birdeye.Validate(); err != nil {
			return err
		}
	default:
		return &domain.ConfigurationError{Field: "MARKET_DATA", Reason: fmt.Sprintf("unknown provider %q", c.MarketData)}
	}

	switch c.ChainIntel {
	case ProviderMock:
	case ProviderHelius:
		if err := c.Helius.Validate(); err != nil {
			return err
		}
	default:
		return &domain.ConfigurationError{Field: "CHAIN_INTEL", Reason: fmt.Sprintf("unknown provider %q", c.ChainIntel)}
	}

	if c.Live.Interval <= 0 && c.Live.SlotTicks <= 0 {
		return &domain.ConfigurationError{Field: "live.interval", Reason: "must be positive when slot ticks are off"}
	}
	if c.Live.SlotTicks > 0 && c.ChainIntel == ProviderHelius && c.Helius.WSURL == "" {
		return &domain.ConfigurationError{Field: "HELIUS_WS_URL", Reason: "required for slot ticks"}
	}
	return c.Pipeline.Validate()
}

// Hash returns the hash of the configuration's canonical JSON encoding.
// Credentials, endpoints and logging settings are excluded.
func (c Config) Hash() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	return idhash.ComputeConfigHash(b), nil
}

// Package cache decorates a chain provider with a Redis read-through cache.
// Chain state changes slowly and costs many RPC calls per candidate.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"memetrader/internal/domain"
	"memetrader/internal/provider"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "memetrader:chain:"

// Config configures the cache.
type Config struct {
	Addr   string        `yaml:"addr" json:"-"`
	TTL    time.Duration `yaml:"ttl" json:"ttl"`
	Prefix string        `yaml:"prefix" json:"prefix"`
}

// DefaultConfig caches chain snapshots for five minutes.
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, Prefix: DefaultPrefix}
}

// ChainCache wraps a ChainProvider. Redis failures fall through to the
// wrapped provider.
type ChainCache struct {
	next   provider.ChainProvider
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// Option configures a ChainCache.
type Option func(*ChainCache)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *ChainCache) {
		c.logger = l
	}
}

// NewClient opens a Redis client for cfg.Addr.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr})
}

// New wraps next with client.
func New(next provider.ChainProvider, client redis.UniversalClient, cfg Config, opts ...Option) *ChainCache {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	c := &ChainCache{
		next:   next,
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name reports the wrapped provider's name.
func (c *ChainCache) Name() string { return c.next.Name() }

// FetchChain serves a cached snapshot when present, re-stamped to at with
// token age advanced accordingly. Misses are fetched and stored.
func (c *ChainCache) FetchChain(ctx context.Context, candidateID string, at int64) (*domain.ChainSnapshot, error) {
	key := c.prefix + candidateID

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap domain.ChainSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil && snap.CandidateID == candidateID {
			return restamp(snap, at), nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding unreadable cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("chain cache read failed")
	}

	snap, err := c.next.FetchChain(ctx, candidateID, at)
	if err != nil || snap == nil {
		return snap, err
	}

	data, err := json.Marshal(snap)
	if err == nil {
		err = c.client.Set(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("chain cache write failed")
	}
	return snap, nil
}

func restamp(snap domain.ChainSnapshot, at int64) *domain.ChainSnapshot {
	if delta := (at - snap.Timestamp) / 1000; delta > 0 && snap.TokenAgeSec > 0 {
		snap.TokenAgeSec += delta
	}
	snap.Timestamp = at
	return &snap
}

// Compile-time interface check.
var _ provider.ChainProvider = (*ChainCache)(nil)

// Package app builds providers, stores and tick sources from a validated
// configuration. Commands call it once at startup.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"memetrader/internal/config"
	"memetrader/internal/domain"
	"memetrader/internal/live"
	"memetrader/internal/observability"
	"memetrader/internal/provider"
	"memetrader/internal/provider/birdeye"
	"memetrader/internal/provider/cache"
	"memetrader/internal/provider/helius"
	"memetrader/internal/provider/mock"
	"memetrader/internal/recorder"
	"memetrader/internal/solana"
	chstore "memetrader/internal/storage/clickhouse"
	pgstore "memetrader/internal/storage/postgres"
)

// Resources holds what a run needs besides the pipeline configuration.
// Close releases every connection opened for it.
type Resources struct {
	Providers live.Providers
	Mirrors   []recorder.Sink
	Archive   *chstore.SnapshotStore // nil without CLICKHOUSE_DSN

	closers []func() error
}

// Close closes connections in reverse order of opening.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Resources) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Open builds providers and connects the configured stores. On error every
// connection already opened is closed.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*Resources, error) {
	res := &Resources{}
	if err := res.openProviders(cfg, logger); err != nil {
		_ = res.Close()
		return nil, err
	}
	if err := res.openStores(ctx, cfg, metrics); err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

// OpenStores connects the configured stores only.
func OpenStores(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*Resources, error) {
	res := &Resources{}
	if err := res.openStores(ctx, cfg, metrics); err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

// OpenProviders builds providers only.
func OpenProviders(cfg config.Config, logger zerolog.Logger) (*Resources, error) {
	res := &Resources{}
	if err := res.openProviders(cfg, logger); err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

func (r *Resources) openProviders(cfg config.Config, logger zerolog.Logger) error {
	var shared *mock.Provider
	mockProvider := func() (*mock.Provider, error) {
		if shared != nil {
			return shared, nil
		}
		p, err := mock.New(cfg.Mock)
		shared = p
		return p, err
	}

	var universe provider.Universe
	switch cfg.MarketData {
	case config.ProviderMock:
		p, err := mockProvider()
		if err != nil {
			return err
		}
		r.Providers.Market, universe = p, p
	case config.ProviderBirdeye:
		c, err := birdeye.New(cfg.Birdeye, birdeye.WithLogger(logger.With().Str("provider", birdeye.Name).Logger()))
		if err != nil {
			return err
		}
		r.Providers.Market, universe = c, c
	default:
		return &domain.ConfigurationError{Field: "MARKET_DATA", Reason: fmt.Sprintf("unknown provider %q", cfg.MarketData)}
	}

	var chain provider.ChainProvider
	switch cfg.ChainIntel {
	case config.ProviderMock:
		p, err := mockProvider()
		if err != nil {
			return err
		}
		chain = p
	case config.ProviderHelius:
		p, err := helius.New(cfg.Helius, helius.WithLogger(logger.With().Str("provider", helius.Name).Logger()))
		if err != nil {
			return err
		}
		chain = p
	default:
		return &domain.ConfigurationError{Field: "CHAIN_INTEL", Reason: fmt.Sprintf("unknown provider %q", cfg.ChainIntel)}
	}

	if cfg.Cache.Addr != "" {
		client := cache.NewClient(cfg.Cache)
		r.onClose(client.Close)
		chain = cache.New(chain, client, cfg.Cache, cache.WithLogger(logger.With().Str("component", "chain_cache").Logger()))
	}
	r.Providers.Chain = chain

	if len(cfg.Live.Universe) > 0 {
		universe = StaticUniverse(cfg.Live.Universe)
	}
	r.Providers.Universe = universe
	return nil
}

func (r *Resources) openStores(ctx context.Context, cfg config.Config, metrics *observability.Metrics) error {
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, pgstore.WithMetrics(metrics))
		if err != nil {
			return err
		}
		r.onClose(func() error {
			pool.Close()
			return nil
		})
		r.Mirrors = append(r.Mirrors, pgstore.NewMirror(pool))
	}
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return err
		}
		r.onClose(conn.Close)
		r.Archive = chstore.NewSnapshotStore(conn, metrics)
	}
	return nil
}

// SnapshotSink returns the archive as a recorder sink, or nil.
func (r *Resources) SnapshotSink() recorder.SnapshotSink {
	if r.Archive == nil {
		return nil
	}
	return r.Archive
}

// StaticUniverse turns a mint list into a fixed universe. Duplicates are
// dropped and the mint doubles as the symbol.
func StaticUniverse(mints []string) provider.StaticUniverse {
	seen := make(map[string]struct{}, len(mints))
	out := make(provider.StaticUniverse, 0, len(mints))
	for _, m := range mints {
		if _, ok := seen[m]; ok || m == "" {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, domain.Candidate{ID: m, Symbol: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TickSource returns the live cadence: every SlotTicks slots over the
// websocket when set, otherwise a fixed interval. The returned stop
// function releases the source.
func TickSource(ctx context.Context, cfg config.Config, logger zerolog.Logger) (live.TickSource, func(), error) {
	if cfg.Live.SlotTicks > 0 {
		if cfg.Helius.WSURL == "" {
			return nil, nil, &domain.ConfigurationError{Field: "HELIUS_WS_URL", Reason: "required for slot ticks"}
		}
		wsCfg := solana.DefaultSlotClientConfig()
		ws, err := solana.DialSlots(ctx, cfg.Helius.WSURL, &wsCfg, solana.WithSlotLogger(logger.With().Str("component", "slot_ws").Logger()))
		if err != nil {
			return nil, nil, fmt.Errorf("connect slot websocket: %w", err)
		}
		src, err := live.NewSlotSource(ctx, ws, cfg.Live.SlotTicks)
		if err != nil {
			_ = ws.Close()
			return nil, nil, fmt.Errorf("subscribe slots: %w", err)
		}
		return src, func() { _ = ws.Close() }, nil
	}
	src := live.NewIntervalSource(cfg.Live.Interval)
	return src, src.Stop, nil
}

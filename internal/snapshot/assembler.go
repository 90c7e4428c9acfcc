// Package snapshot assembles market and chain observations into combined
// snapshots in a deterministic order.
package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"memetrader/internal/domain"
	"memetrader/internal/observability"
	"memetrader/internal/provider"
)

// Absence is the typed reason a snapshot could not be assembled.
// Its value doubles as the decision reason code.
type Absence string

const (
	Present       Absence = ""
	MissingMarket Absence = domain.ReasonMissingMarket
	MissingChain  Absence = domain.ReasonMissingChain
	Malformed     Absence = domain.ReasonInvalidData
)

// Result is either a combined snapshot or a typed absence.
type Result struct {
	Candidate domain.Candidate
	Timestamp int64
	Snapshot  *domain.CombinedSnapshot // nil when Absence is set
	Absence   Absence
	Err       error // underlying cause of an absence

	// Raw feed responses as fetched, before validation. Used for capture.
	Market *domain.MarketSnapshot
	Chain  *domain.ChainSnapshot

	// Fetch errors wrapping domain.ErrMalformedData, kept for capture.
	MarketErr error
	ChainErr  error
}

// Record returns the result as a dataset record. Replaying the record
// through the same assembler yields the same result.
func (r Result) Record() domain.SnapshotRecord {
	rec := domain.SnapshotRecord{
		Timestamp:   r.Timestamp,
		CandidateID: r.Candidate.ID,
		Symbol:      r.Candidate.Symbol,
	}
	if r.Market != nil {
		m := *r.Market
		rec.Market = &m
	}
	if r.Chain != nil {
		c := *r.Chain
		rec.Chain = &c
	}
	if r.MarketErr != nil {
		rec.MarketInvalid = r.MarketErr.Error()
	}
	if r.ChainErr != nil {
		rec.ChainInvalid = r.ChainErr.Error()
	}
	return rec
}

// Config bounds provider fetches.
type Config struct {
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`                 // per candidate, both feeds; 0 waits indefinitely
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency"` // candidates fetched in parallel
}

// DefaultConfig returns the default fetch bounds.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Second, MaxConcurrency: 8}
}

// Assembler fans out provider fetches and merges the responses.
type Assembler struct {
	market  provider.MarketProvider
	chain   provider.ChainProvider
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Assembler) {
		a.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// NewAssembler creates an Assembler over the given providers.
func NewAssembler(market provider.MarketProvider, chain provider.ChainProvider, cfg Config, opts ...Option) *Assembler {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	a := &Assembler{
		market: market,
		chain:  chain,
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect fetches every candidate for the tick at ts and returns one result
// per distinct candidate, sorted by candidate id then timestamp regardless
// of completion order.
func (a *Assembler) Collect(ctx context.Context, ts int64, candidates []domain.Candidate) []Result {
	candidates = dedupe(candidates)
	results := make([]Result, len(candidates))

	sem := make(chan struct{}, a.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c domain.Candidate) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				results[i] = Result{Candidate: c, Timestamp: ts, Absence: MissingMarket, Err: err}
				return
			}
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = Result{Candidate: c, Timestamp: ts, Absence: MissingMarket, Err: ctx.Err()}
				return
			}
			results[i] = a.assemble(ctx, ts, c)
		}(i, c)
	}
	wg.Wait()

	Sort(results)
	for _, r := range results {
		if r.Absence != Present {
			a.metrics.RecordAbsence(string(r.Absence))
			a.logger.Debug().
				Str("candidate", r.Candidate.ID).
				Int64("ts", r.Timestamp).
				Str("absence", string(r.Absence)).
				AnErr("cause", r.Err).
				Msg("snapshot absent")
		}
	}
	return results
}

// Sort orders results by candidate id then timestamp.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Candidate.ID != results[j].Candidate.ID {
			return results[i].Candidate.ID < results[j].Candidate.ID
		}
		return results[i].Timestamp < results[j].Timestamp
	})
}

// assemble fetches both feeds for one candidate concurrently.
func (a *Assembler) assemble(ctx context.Context, ts int64, c domain.Candidate) Result {
	ctx, span := observability.StartSpan(ctx, "snapshot.assemble")
	span.SetAttributes(attribute.String("candidate", c.ID), attribute.Int64("ts", ts))
	defer span.End()

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	var (
		wg     sync.WaitGroup
		market *domain.MarketSnapshot
		chain  *domain.ChainSnapshot
		mErr   error
		cErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		market, mErr = fetch(ctx, func(ctx context.Context) (*domain.MarketSnapshot, error) {
			return a.market.FetchMarket(ctx, c.ID, ts)
		})
		a.metrics.RecordFetch(a.market.Name(), "market", time.Since(start), mErr)
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		chain, cErr = fetch(ctx, func(ctx context.Context) (*domain.ChainSnapshot, error) {
			return a.chain.FetchChain(ctx, c.ID, ts)
		})
		a.metrics.RecordFetch(a.chain.Name(), "chain", time.Since(start), cErr)
	}()
	wg.Wait()

	res := Result{Candidate: c, Timestamp: ts}
	switch {
	case mErr == nil:
		res.Market = market
	case errors.Is(mErr, domain.ErrMalformedData):
		res.MarketErr = mErr
	}
	switch {
	case cErr == nil:
		res.Chain = chain
	case errors.Is(cErr, domain.ErrMalformedData):
		res.ChainErr = cErr
	}

	if absence, err := classify(MissingMarket, market, mErr); absence != Present {
		res.Absence, res.Err = absence, err
		return res
	}
	if err := market.Validate(c.ID); err != nil {
		res.Absence, res.Err = Malformed, err
		return res
	}
	if absence, err := classify(MissingChain, chain, cErr); absence != Present {
		res.Absence, res.Err = absence, err
		return res
	}
	if err := chain.Validate(c.ID); err != nil {
		res.Absence, res.Err = Malformed, err
		return res
	}

	res.Snapshot = &domain.CombinedSnapshot{
		CandidateID: c.ID,
		Symbol:      c.Symbol,
		Timestamp:   ts,
		Market:      *market,
		Chain:       *chain,
	}
	return res
}

// classify maps a fetch outcome to an absence.
func classify[T any](missing Absence, v *T, err error) (Absence, error) {
	switch {
	case errors.Is(err, domain.ErrMalformedData):
		return Malformed, err
	case err != nil:
		return missing, err
	case v == nil:
		return missing, provider.ErrAbsent
	}
	return Present, nil
}

// fetch runs fn and stops waiting when ctx is done, even if fn does not
// honor cancellation.
func fetch[T any](ctx context.Context, fn func(context.Context) (*T, error)) (*T, error) {
	type result struct {
		v   *T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func dedupe(candidates []domain.Candidate) []domain.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Package pipeline is the evaluation path shared by live and backtest runs:
// assemble, extract, score, apply, execute and record, one tick at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"memetrader/internal/domain"
	"memetrader/internal/execution"
	"memetrader/internal/features"
	"memetrader/internal/metrics"
	"memetrader/internal/observability"
	"memetrader/internal/position"
	"memetrader/internal/provider"
	"memetrader/internal/recorder"
	"memetrader/internal/scoring"
	"memetrader/internal/snapshot"
)

// Config groups the parameters of every pipeline stage.
type Config struct {
	Snapshot  snapshot.Config  `yaml:"snapshot" json:"snapshot"`
	Features  features.Config  `yaml:"features" json:"features"`
	Scoring   scoring.Config   `yaml:"scoring" json:"scoring"`
	Risk      position.Config  `yaml:"risk" json:"risk"`
	Execution execution.Config `yaml:"trading" json:"trading"`
}

// DefaultConfig returns defaults for every stage.
func DefaultConfig() Config {
	return Config{
		Snapshot:  snapshot.DefaultConfig(),
		Features:  features.DefaultConfig(),
		Scoring:   scoring.DefaultConfig(),
		Risk:      position.DefaultConfig(),
		Execution: execution.DefaultConfig(),
	}
}

// Validate validates every stage.
func (c Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return c.Execution.Validate()
}

// Ack is an external acknowledgment of a pending trade.
type Ack struct {
	TradeID string
	Accept  bool
}

// View is a read-only copy of run state as of the last completed tick.
type View struct {
	Timestamp   int64             `json:"ts"`
	Ticks       int               `json:"ticks"`
	Positions   []domain.Position `json:"positions"`
	Pending     []domain.Trade    `json:"pending"`
	RealizedPnL float64           `json:"realized_pnl"`
}

// Pipeline drives one run. Tick and Finish must be called from a single
// goroutine; Enqueue and View are safe for concurrent use.
type Pipeline struct {
	cfg       Config
	assembler *snapshot.Assembler
	engine    *scoring.Engine
	manager   *position.Manager
	sim       *execution.Simulator
	rec       *recorder.Recorder
	logger    zerolog.Logger
	metrics   *observability.Metrics

	lastTs   int64
	ticks    int
	absences int

	mu    sync.Mutex
	queue []Ack
	view  View
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New validates cfg and wires the stages over the given providers.
// An invalid configuration is returned as a *domain.ConfigurationError.
func New(cfg Config, market provider.MarketProvider, chain provider.ChainProvider, rec *recorder.Recorder, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		rec:    rec,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	engine, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	sim, err := execution.NewSimulator(cfg.Execution)
	if err != nil {
		return nil, err
	}
	manager, err := position.NewManager(cfg.Risk, sim)
	if err != nil {
		return nil, err
	}

	p.engine = engine
	p.sim = sim
	p.manager = manager
	p.assembler = snapshot.NewAssembler(market, chain, cfg.Snapshot,
		snapshot.WithLogger(p.logger),
		snapshot.WithMetrics(p.metrics),
	)
	p.view.Positions = []domain.Position{}
	p.view.Pending = []domain.Trade{}
	return p, nil
}

// Enqueue queues an acknowledgment for the next tick boundary.
func (p *Pipeline) Enqueue(ack Ack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, ack)
}

// View returns the state as of the last completed tick.
func (p *Pipeline) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.view
	v.Positions = append([]domain.Position(nil), p.view.Positions...)
	v.Pending = append([]domain.Trade(nil), p.view.Pending...)
	return v
}

// IsPending reports whether tradeID awaited acknowledgment after the last tick.
func (p *Pipeline) IsPending(tradeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.view.Pending {
		if t.TradeID == tradeID {
			return true
		}
	}
	return false
}

// Tick evaluates candidates at ts. Queued acknowledgments and the ack
// policy are applied first, then every candidate is processed in id order.
// Only recorder failures are returned.
func (p *Pipeline) Tick(ctx context.Context, ts int64, candidates []domain.Candidate) error {
	if err := p.acknowledge(ctx); err != nil {
		return err
	}

	results := p.assembler.Collect(ctx, ts, candidates)

	records := make([]domain.SnapshotRecord, len(results))
	for i, r := range results {
		records[i] = r.Record()
	}
	if err := p.rec.Snapshots(ctx, records); err != nil {
		return err
	}

	for _, r := range results {
		if err := p.evaluate(ctx, r); err != nil {
			return err
		}
	}

	p.lastTs = ts
	p.ticks++
	p.metrics.RecordTick(ts)
	p.publish()
	return nil
}

// Finish liquidates remaining positions at the last tick, writes the run
// summary and closes the recorder. meta carries the run identity; counters
// are filled in here.
func (p *Pipeline) Finish(ctx context.Context, meta domain.RunSummary) (domain.RunSummary, error) {
	trades, liquidated, err := p.manager.Liquidate(p.lastTs)
	for _, t := range trades {
		if rerr := p.rec.Trade(ctx, t); rerr != nil {
			return meta, rerr
		}
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("liquidation incomplete")
	}

	meta.LiquidatedAtEnd = liquidated
	meta.OpenPositionsAtEnd = len(p.manager.Active())
	meta.TradesPending = len(p.sim.Pending())
	meta.Absences = p.absences
	meta.Performance = metrics.Compute(p.manager.Closed())
	p.publish()

	summary, ferr := p.rec.Finish(ctx, meta)
	if ferr != nil {
		return summary, fmt.Errorf("finish run: %w", ferr)
	}
	p.logger.Info().
		Str("run_id", summary.RunID).
		Int("decisions", summary.Decisions).
		Int("trades_final", summary.TradesFinal).
		Int("liquidated", liquidated).
		Float64("total_pnl", summary.TotalPnL).
		Msg("run finished")
	return summary, err
}

// LastTimestamp returns the ts of the last completed tick.
func (p *Pipeline) LastTimestamp() int64 {
	return p.lastTs
}

// acknowledge applies queued external acks, then the ack policy to any
// trade still pending.
func (p *Pipeline) acknowledge(ctx context.Context) error {
	p.mu.Lock()
	queue := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, ack := range queue {
		if err := p.ack(ctx, ack); err != nil {
			return err
		}
	}

	var accept bool
	switch p.sim.AckPolicy() {
	case execution.AckAutoConfirm:
		accept = true
	case execution.AckAutoReject:
		accept = false
	default:
		return nil
	}
	for _, t := range p.sim.Pending() {
		if err := p.ack(ctx, Ack{TradeID: t.TradeID, Accept: accept}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) ack(ctx context.Context, ack Ack) error {
	trade, err := p.manager.Acknowledge(ack.TradeID, ack.Accept)
	if errors.Is(err, position.ErrUnknownTrade) {
		p.logger.Warn().Str("trade_id", ack.TradeID).Msg("acknowledgment for unknown trade ignored")
		return nil
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("trade_id", ack.TradeID).Msg("acknowledgment failed")
		return nil
	}
	return p.rec.Trade(ctx, trade)
}

// evaluate runs one assembled result through scoring and the position
// manager and records the outcome.
func (p *Pipeline) evaluate(ctx context.Context, r snapshot.Result) error {
	cid := r.Candidate.ID

	var d domain.Decision
	if r.Snapshot == nil {
		p.absences++
		d = p.engine.Absent(cid, r.Timestamp, string(r.Absence))
	} else {
		fv := features.Extract(*r.Snapshot, p.cfg.Features)
		d = p.engine.Score(cid, r.Timestamp, fv, p.manager.HasOpen(cid))
	}

	out, err := p.manager.Apply(d, r.Snapshot)
	if err != nil {
		p.logger.Warn().Err(err).Str("candidate", cid).Int64("ts", r.Timestamp).Msg("execution failed")
		out = position.Outcome{Decision: d.Override(domain.ActionHold, d.Confidence, domain.ReasonExecutionRejected)}
	}

	if err := p.rec.Decision(ctx, out.Decision); err != nil {
		return err
	}
	for _, t := range out.Trades {
		if err := p.rec.Trade(ctx, t); err != nil {
			return err
		}
	}

	if out.Decision.Action == domain.ActionBuy || out.Decision.Action == domain.ActionSell {
		p.logger.Info().
			Str("candidate", cid).
			Int64("ts", r.Timestamp).
			Str("action", string(out.Decision.Action)).
			Strs("reasons", out.Decision.Reasons).
			Msg("decision")
	}
	return nil
}

// publish refreshes the concurrent view and position gauges.
func (p *Pipeline) publish() {
	active := p.manager.Active()
	pending := p.sim.Pending()
	realized := p.manager.RealizedPnL()

	p.mu.Lock()
	p.view = View{
		Timestamp:   p.lastTs,
		Ticks:       p.ticks,
		Positions:   active,
		Pending:     pending,
		RealizedPnL: realized,
	}
	p.mu.Unlock()

	p.metrics.UpdatePositions(len(active), len(pending), realized)
}

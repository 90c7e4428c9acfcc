// Package mock is a deterministic, seeded market and chain provider.
//
// Each token follows a fixed price path generated from the seed: a calm
// phase, an uptrend, a spike, a dump and a recovery. Fetches map the tick
// timestamp onto that path cyclically, so identical (candidate, ts) pairs
// always return identical snapshots.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"memetrader/internal/domain"
	"memetrader/internal/provider"
)

// Calibration token ids.
const (
	TokenSteadyWinner      = "MINT_WIN_PERFECT"
	TokenHeadfake          = "MINT_FAKE_HEADFAKE"
	TokenMintNotRevoked    = "MINT_NOT_REVOKED"
	TokenWhaleConcentrated = "MINT_WHALE_HELD"
)

// Config controls the generated universe.
type Config struct {
	Seed           uint64        `yaml:"seed" json:"seed"`
	Tokens         int           `yaml:"tokens" json:"tokens"`                   // generated tokens besides calibration ones
	Candles        int           `yaml:"candles" json:"candles"`                 // path length per token
	Interval       time.Duration `yaml:"interval" json:"interval"`               // time per path step
	StartTs        int64         `yaml:"start_ts" json:"start_ts"`               // ms at path index 0
	AbsentPct      float64       `yaml:"absent_pct" json:"absent_pct"`           // share of fetches reported absent, 0..1
	MomentumWindow int           `yaml:"momentum_window" json:"momentum_window"` // steps back for price change
	Calibration    bool          `yaml:"calibration" json:"calibration"`
}

// DefaultConfig returns a small universe with calibration tokens.
func DefaultConfig() Config {
	return Config{
		Seed:           1000,
		Tokens:         7,
		Candles:        300,
		Interval:       time.Minute,
		StartTs:        1_700_000_000_000,
		AbsentPct:      0.02,
		MomentumWindow: 5,
		Calibration:    true,
	}
}

// token is one generated candidate and its static chain profile.
type token struct {
	candidate     domain.Candidate
	prices        []float64
	volumes       []float64
	liquidity     float64
	spreadBps     float64
	holders       int64
	topHolderPct  float64
	mintRevoked   bool
	freezeRevoked bool
	lpLockedPct   float64
	ageSec        int64
}

// Provider serves both feeds and the candidate universe.
type Provider struct {
	cfg    Config
	tokens map[string]*token
	ids    []string
}

// New generates the universe for cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.Candles < 2 {
		return nil, &domain.ConfigurationError{Field: "mock.candles", Reason: "must be at least 2"}
	}
	if cfg.Interval < time.Millisecond {
		return nil, &domain.ConfigurationError{Field: "mock.interval", Reason: "must be at least 1ms"}
	}
	if cfg.AbsentPct < 0 || cfg.AbsentPct > 1 {
		return nil, &domain.ConfigurationError{Field: "mock.absent_pct", Reason: "must be within [0, 1]"}
	}

	p := &Provider{cfg: cfg, tokens: make(map[string]*token)}
	if cfg.Calibration {
		for _, t := range calibrationTokens(cfg) {
			p.add(t)
		}
	}
	for i := 0; i < cfg.Tokens; i++ {
		p.add(generated(cfg, i))
	}
	sort.Strings(p.ids)
	return p, nil
}

func (p *Provider) add(t *token) {
	p.tokens[t.candidate.ID] = t
	p.ids = append(p.ids, t.candidate.ID)
}

// Name returns "mock".
func (p *Provider) Name() string {
	return "mock"
}

// Candidates returns every token ordered by id.
func (p *Provider) Candidates(_ context.Context) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, len(p.ids))
	for i, id := range p.ids {
		out[i] = p.tokens[id].candidate
	}
	return out, nil
}

// FetchMarket returns the market snapshot at the path step for at.
func (p *Provider) FetchMarket(ctx context.Context, candidateID string, at int64) (*domain.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := p.tokens[candidateID]
	if !ok || p.absent("market", candidateID, at) {
		return nil, provider.ErrAbsent
	}

	i := p.step(at, len(t.prices))
	vol := 0.0
	for j := max(0, i-4); j <= i; j++ {
		vol += t.volumes[j]
	}
	prevVol := 0.0
	for j := max(0, i-9); j <= max(0, i-5); j++ {
		prevVol += t.volumes[j]
	}

	return &domain.MarketSnapshot{
		CandidateID:     candidateID,
		Timestamp:       at,
		Price:           t.prices[i],
		Liquidity:       t.liquidity,
		Volume:          vol * t.prices[i],
		SpreadBps:       t.spreadBps,
		PriceChangePct:  pctChange(t.prices[max(0, i-p.cfg.MomentumWindow)], t.prices[i]),
		VolumeChangePct: pctChange(prevVol, vol),
	}, nil
}

// FetchChain returns the token's chain profile at at.
func (p *Provider) FetchChain(ctx context.Context, candidateID string, at int64) (*domain.ChainSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := p.tokens[candidateID]
	if !ok || p.absent("chain", candidateID, at) {
		return nil, provider.ErrAbsent
	}

	i := p.step(at, len(t.prices))
	return &domain.ChainSnapshot{
		CandidateID:            candidateID,
		Timestamp:              at,
		HolderCount:            t.holders + int64(i)*3,
		TopHolderPct:           t.topHolderPct,
		MintAuthorityRevoked:   t.mintRevoked,
		FreezeAuthorityRevoked: t.freezeRevoked,
		LPLockedPct:            t.lpLockedPct,
		TokenAgeSec:            t.ageSec + int64(i)*int64(p.cfg.Interval/time.Second),
	}, nil
}

// step maps at onto the path, wrapping around.
func (p *Provider) step(at int64, n int) int {
	k := (at - p.cfg.StartTs) / p.cfg.Interval.Milliseconds()
	i := int(k % int64(n))
	if i < 0 {
		i += n
	}
	return i
}

// absent decides absences from a hash of the seed and the fetch key.
func (p *Provider) absent(feed, candidateID string, at int64) bool {
	if p.cfg.AbsentPct <= 0 {
		return false
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%d", p.cfg.Seed, feed, candidateID, at)
	return float64(h.Sum64()%10000) < p.cfg.AbsentPct*10000
}

func pctChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}

// generated builds token idx from its own seeded stream.
func generated(cfg Config, idx int) *token {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(idx)))
	id := fmt.Sprintf("TOKEN%02d", idx)

	prices := make([]float64, cfg.Candles)
	volumes := make([]float64, cfg.Candles)
	price := 0.5 + float64(idx)*0.12
	for i := range prices {
		drift, volume := regime(rng, i, cfg.Candles)
		price = math.Max(0.01, price*(1+drift))
		prices[i] = price
		volumes[i] = volume
	}

	return &token{
		candidate:     domain.Candidate{ID: id, Symbol: fmt.Sprintf("MEME%02d", idx), FirstSeen: cfg.StartTs},
		prices:        prices,
		volumes:       volumes,
		liquidity:     50000 + float64(idx)*5000,
		spreadBps:     20 + float64(idx%5)*15,
		holders:       800 + int64(idx)*150,
		topHolderPct:  8 + float64(idx%4)*4,
		mintRevoked:   true,
		freezeRevoked: true,
		lpLockedPct:   70 + float64(idx%3)*10,
		ageSec:        3600 + int64(idx)*1800,
	}
}

// regime returns the per-step drift and volume. The phases are scaled to
// the path length: calm, uptrend, spike, dump, recovery.
func regime(rng *rand.Rand, i, n int) (float64, float64) {
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	phase := i * 5 / n
	spikeAt, dumpAt := n*140/300, n*220/300

	var drift float64
	volume := 1000 + uniform(0, 500)
	switch phase {
	case 0:
		drift = uniform(-0.002, 0.002)
	case 1:
		drift = 0.002 + uniform(-0.001, 0.001)
	case 2:
		drift = 0.003 + uniform(-0.001, 0.001)
	case 3:
		drift = -0.005 + uniform(-0.002, 0)
	default:
		drift = 0.001 + uniform(-0.001, 0.001)
	}
	switch i {
	case spikeAt:
		drift = 0.08
		volume = 8000 + uniform(0, 2000)
	case spikeAt + 1:
		volume = 8000 + uniform(0, 2000)
	case dumpAt:
		drift = -0.15
		volume = 6000 + uniform(0, 1500)
	case dumpAt + 1:
		volume = 6000 + uniform(0, 1500)
	}
	return drift, volume
}

// calibrationTokens are fixed paths with known outcomes.
func calibrationTokens(cfg Config) []*token {
	base := func(id, symbol string, closes []float64) *token {
		prices := make([]float64, cfg.Candles)
		volumes := make([]float64, cfg.Candles)
		for i := range prices {
			j := min(i, len(closes)-1)
			prices[i] = closes[j]
			volumes[i] = 150 + float64(j)*80
		}
		return &token{
			candidate:     domain.Candidate{ID: id, Symbol: symbol, FirstSeen: cfg.StartTs},
			prices:        prices,
			volumes:       volumes,
			liquidity:     150000,
			spreadBps:     25,
			holders:       2500,
			topHolderPct:  9,
			mintRevoked:   true,
			freezeRevoked: true,
			lpLockedPct:   95,
			ageSec:        7 * 86400,
		}
	}

	winner := base(TokenSteadyWinner, "WIN_PERFECT", []float64{1.00, 1.01, 1.02, 1.04, 1.10, 1.18, 1.25, 1.33, 1.40, 1.48, 1.55})
	headfake := base(TokenHeadfake, "FAKE_HEADFAKE", []float64{1.00, 1.01, 1.07, 1.15, 0.95, 0.82, 0.80})

	notRevoked := base(TokenMintNotRevoked, "RUG_MINT", []float64{1.00, 1.05, 1.12, 1.20, 1.30})
	notRevoked.mintRevoked = false

	whale := base(TokenWhaleConcentrated, "WHALE", []float64{1.00, 1.04, 1.09, 1.15, 1.22})
	whale.topHolderPct = 65

	return []*token{winner, headfake, notRevoked, whale}
}

// Compile-time interface checks.
var (
	_ provider.MarketProvider = (*Provider)(nil)
	_ provider.ChainProvider  = (*Provider)(nil)
	_ provider.Universe       = (*Provider)(nil)
)

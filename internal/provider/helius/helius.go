// Package helius is a chain provider reading SPL token state over Solana
// JSON-RPC, typically a Helius endpoint.
package helius

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"memetrader/internal/domain"
	"memetrader/internal/provider"
	"memetrader/internal/solana"
)

// Name identifies the provider.
const Name = "helius"

// Config configures the chain provider.
type Config struct {
	RPCURL string  `yaml:"rpc_url" json:"-"`
	WSURL  string  `yaml:"ws_url" json:"-"`
	RPS    float64 `yaml:"rps" json:"rps"`

	// HolderLookups bounds owner lookups among the largest accounts.
	HolderLookups int `yaml:"holder_lookups" json:"holder_lookups"`
	// SignaturePages bounds the walk back to the mint's first signature.
	// When reached, token age is a lower bound.
	SignaturePages int `yaml:"signature_pages" json:"signature_pages"`
	// LPLockedPct is reported for every token. Lock detection needs
	// pool-program decoding, which this provider does not do.
	LPLockedPct float64 `yaml:"lp_locked_pct" json:"lp_locked_pct"`

	Breaker provider.BreakerConfig `yaml:"breaker" json:"breaker"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		RPS:            10,
		HolderLookups:  10,
		SignaturePages: 5,
		LPLockedPct:    0,
		Breaker:        provider.DefaultBreakerConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return &domain.ConfigurationError{Field: "HELIUS_RPC_URL", Reason: "required when CHAIN_INTEL=helius"}
	}
	if c.RPS <= 0 {
		return &domain.ConfigurationError{Field: "helius.rps", Reason: "must be positive"}
	}
	if c.HolderLookups < 1 || c.SignaturePages < 1 {
		return &domain.ConfigurationError{Field: "helius", Reason: "holder_lookups and signature_pages must be at least 1"}
	}
	if c.LPLockedPct < 0 || c.LPLockedPct > 100 {
		return &domain.ConfigurationError{Field: "helius.lp_locked_pct", Reason: "must be within 0-100"}
	}
	return nil
}

const signaturePageSize = 1000

// Provider implements provider.ChainProvider.
type Provider struct {
	cfg     Config
	rpc     solana.RPCClient
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// WithRPCClient replaces the HTTP client built from cfg.RPCURL.
func WithRPCClient(rpc solana.RPCClient) Option {
	return func(p *Provider) {
		p.rpc = rpc
	}
}

// New creates a Provider after validating cfg.
func New(cfg Config, opts ...Option) (*Provider, error) {
	p := &Provider{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.rpc == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		p.rpc = solana.NewHTTPClient(cfg.RPCURL,
			solana.WithRateLimit(cfg.RPS, max(1, int(cfg.RPS))),
			solana.WithTimeout(10*time.Second),
		)
	}
	p.breaker = provider.NewBreaker(Name, cfg.Breaker, p.logger)
	return p, nil
}

// Name implements provider.ChainProvider.
func (p *Provider) Name() string { return Name }

// FetchChain reads the mint, its largest holders, its holder count and its
// first signature. Live state is returned regardless of at, which only
// stamps the snapshot and anchors token age.
func (p *Provider) FetchChain(ctx context.Context, candidateID string, at int64) (*domain.ChainSnapshot, error) {
	return provider.Guard(p.breaker, func() (*domain.ChainSnapshot, error) {
		return p.fetch(ctx, candidateID, at)
	})
}

func (p *Provider) fetch(ctx context.Context, mint string, at int64) (*domain.ChainSnapshot, error) {
	info, err := p.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint account: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: mint %s not found", provider.ErrAbsent, mint)
	}
	if info.Owner != solana.TokenProgramID && info.Owner != solana.Token2022ID {
		return nil, fmt.Errorf("%w: %s is not a token mint (owner %s)", domain.ErrMalformedData, mint, info.Owner)
	}
	m, err := solana.DecodeMint(info.Data)
	if err != nil {
		return nil, errors.Join(domain.ErrMalformedData, err)
	}

	topPct, err := p.topHolderPct(ctx, mint, m.Supply)
	if err != nil {
		return nil, err
	}

	holders, err := p.rpc.GetTokenAccountCount(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("count token accounts: %w", err)
	}

	created, err := p.firstBlockTime(ctx, mint)
	if err != nil {
		return nil, err
	}
	var ageSec int64
	if created > 0 {
		ageSec = max(0, at/1000-created)
	}

	return &domain.ChainSnapshot{
		CandidateID:            mint,
		Timestamp:              at,
		HolderCount:            holders,
		TopHolderPct:           topPct,
		MintAuthorityRevoked:   m.MintAuthority == nil,
		FreezeAuthorityRevoked: m.FreezeAuthority == nil,
		LPLockedPct:            p.cfg.LPLockedPct,
		TokenAgeSec:            ageSec,
	}, nil
}

// topHolderPct returns the share of supply in the largest account owned by
// a wallet. Accounts owned by program derived addresses, such as AMM pool
// vaults, are skipped.
func (p *Provider) topHolderPct(ctx context.Context, mint string, supply uint64) (float64, error) {
	if supply == 0 {
		return 0, nil
	}
	accounts, err := p.rpc.GetTokenLargestAccounts(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("get largest accounts: %w", err)
	}

	for i, acct := range accounts {
		if i >= p.cfg.HolderLookups {
			break
		}
		info, err := p.rpc.GetAccountInfo(ctx, acct.Address)
		if err != nil {
			return 0, fmt.Errorf("get token account %s: %w", acct.Address, err)
		}
		if info == nil {
			continue
		}
		ta, err := solana.DecodeTokenAccount(info.Data)
		if err != nil {
			return 0, errors.Join(domain.ErrMalformedData, err)
		}
		if !solana.IsOnCurve(ta.Owner) {
			p.logger.Debug().Str("mint", mint).Str("owner", ta.Owner).Msg("skipping program-owned holder")
			continue
		}
		return min(100, float64(acct.Raw())/float64(supply)*100), nil
	}
	return 0, nil
}

// firstBlockTime walks signatures back to the oldest one within the page
// budget and returns its block time in Unix seconds, or 0 when unknown.
func (p *Provider) firstBlockTime(ctx context.Context, address string) (int64, error) {
	var (
		before string
		oldest int64
	)
	for page := 0; page < p.cfg.SignaturePages; page++ {
		sigs, err := p.rpc.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{Before: before, Limit: signaturePageSize})
		if err != nil {
			return 0, fmt.Errorf("get signatures: %w", err)
		}
		for _, s := range sigs {
			if s.BlockTime != nil && *s.BlockTime > 0 {
				oldest = *s.BlockTime
			}
		}
		if len(sigs) < signaturePageSize {
			break
		}
		before = sigs[len(sigs)-1].Signature
	}
	return oldest, nil
}

// Compile-time interface check.
var _ provider.ChainProvider = (*Provider)(nil)

package execution

import (
	"errors"
	"fmt"
	"math"

	"memetrader/internal/domain"
)

var (
	// ErrUnknownTrade is returned when acknowledging a trade that is not pending.
	ErrUnknownTrade = errors.New("unknown or already final trade")

	// ErrSlippageTooHigh is returned when an entry's slippage exceeds RejectAboveBps.
	ErrSlippageTooHigh = errors.New("slippage too high")
)

// Request describes one fill to simulate. The simulator reads it and never
// touches position state.
type Request struct {
	TradeID     string
	PositionID  string
	CandidateID string
	Action      domain.TradeAction
	Timestamp   int64
	Reason      string
	Market      domain.MarketSnapshot // latest observation used for pricing

	Notional  float64 // enter: USD to commit before fees
	Size      float64 // exit: token units to sell
	CostBasis float64 // exit: USD committed at entry incl. fee
}

// Simulator computes fills and holds trades awaiting acknowledgment.
// It is not safe for concurrent use; a run drives it from one goroutine.
type Simulator struct {
	cfg     Config
	pending map[string]pendingTrade
	order   []string // pending trade ids in request order
}

type pendingTrade struct {
	trade domain.Trade
	pnl   float64 // exit P&L applied when confirmed
}

// NewSimulator creates a Simulator after validating cfg.
func NewSimulator(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{
		cfg:     cfg,
		pending: make(map[string]pendingTrade),
	}, nil
}

// Mode returns the configured trading mode.
func (s *Simulator) Mode() Mode {
	return s.cfg.Mode
}

// AckPolicy returns the configured acknowledgment policy.
func (s *Simulator) AckPolicy() AckPolicy {
	return s.cfg.AckPolicy
}

// NoLiquidityBps is the slippage estimate for a pool without liquidity.
// It exceeds any valid MaxSlippageBps, so such entries fail a reject check.
const NoLiquidityBps = 10000

// SlippageBps estimates the adverse slippage for trading notional USD
// against a pool of the given liquidity. It is non-decreasing in
// notional/liquidity and never exceeds MaxSlippageBps unless the pool has
// no liquidity, which estimates NoLiquidityBps.
func (s *Simulator) SlippageBps(notional, liquidity, spreadBps float64) float64 {
	if liquidity <= 0 || math.IsNaN(notional) || math.IsNaN(liquidity) {
		return NoLiquidityBps
	}
	impact := math.Max(notional, 0) / liquidity
	bps := s.cfg.MinSlippageBps + math.Max(spreadBps, 0)/2 + s.cfg.ImpactBps*impact
	return math.Min(bps, s.cfg.MaxSlippageBps)
}

// Execute simulates a fill. In confirm mode the returned trade is pending;
// in auto mode it is final.
func (s *Simulator) Execute(req Request) (domain.Trade, error) {
	trade, pnl, err := s.fill(req)
	if err != nil {
		return domain.Trade{}, err
	}
	if s.cfg.Mode == ModeAuto {
		return finalize(trade, pnl), nil
	}
	trade.Status = domain.TradePending
	s.pending[trade.TradeID] = pendingTrade{trade: trade, pnl: pnl}
	s.order = append(s.order, trade.TradeID)
	return trade, nil
}

// Force simulates a fill that is final regardless of mode. Used for
// liquidation at run end.
func (s *Simulator) Force(req Request) (domain.Trade, error) {
	trade, pnl, err := s.fill(req)
	if err != nil {
		return domain.Trade{}, err
	}
	return finalize(trade, pnl), nil
}

// Confirm finalizes a pending trade.
func (s *Simulator) Confirm(tradeID string) (domain.Trade, error) {
	p, err := s.take(tradeID)
	if err != nil {
		return domain.Trade{}, err
	}
	return finalize(p.trade, p.pnl), nil
}

// Reject discards a pending trade. The returned trade carries status rejected.
func (s *Simulator) Reject(tradeID string) (domain.Trade, error) {
	return s.Cancel(tradeID, domain.ReasonExecutionRejected)
}

// Cancel discards a pending trade with the given reason.
func (s *Simulator) Cancel(tradeID, reason string) (domain.Trade, error) {
	p, err := s.take(tradeID)
	if err != nil {
		return domain.Trade{}, err
	}
	t := p.trade
	t.Status = domain.TradeRejected
	t.Reason = reason
	t.PnLDelta = nil
	return t, nil
}

// Pending returns pending trades in request order.
func (s *Simulator) Pending() []domain.Trade {
	out := make([]domain.Trade, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pending[id].trade)
	}
	return out
}

// IsPending reports whether tradeID awaits acknowledgment.
func (s *Simulator) IsPending(tradeID string) bool {
	_, ok := s.pending[tradeID]
	return ok
}

func (s *Simulator) take(tradeID string) (pendingTrade, error) {
	p, ok := s.pending[tradeID]
	if !ok {
		return pendingTrade{}, fmt.Errorf("%w: %s", ErrUnknownTrade, tradeID)
	}
	delete(s.pending, tradeID)
	for i, id := range s.order {
		if id == tradeID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return p, nil
}

// fill prices the request. Returns the trade and, for exits, its P&L.
func (s *Simulator) fill(req Request) (domain.Trade, float64, error) {
	m := req.Market
	if m.Price <= 0 {
		return domain.Trade{}, 0, fmt.Errorf("%w: no positive price for %s", domain.ErrMalformedData, req.CandidateID)
	}

	trade := domain.Trade{
		TradeID:     req.TradeID,
		PositionID:  req.PositionID,
		CandidateID: req.CandidateID,
		Action:      req.Action,
		Timestamp:   req.Timestamp,
		Reason:      req.Reason,
	}

	switch req.Action {
	case domain.TradeEnter:
		bps := s.SlippageBps(req.Notional, m.Liquidity, m.SpreadBps)
		if s.cfg.RejectAboveBps > 0 && bps > s.cfg.RejectAboveBps {
			return domain.Trade{}, 0, fmt.Errorf("%w: %.1f bps > %.1f bps", ErrSlippageTooHigh, bps, s.cfg.RejectAboveBps)
		}
		trade.Slippage = s.fillSlippage(bps)
		trade.Price = m.Price * (1 + trade.Slippage)
		trade.Size = req.Notional / trade.Price
		trade.Fee = req.Notional * s.cfg.FeeBps / 10000
		return trade, 0, nil

	case domain.TradeExit:
		bps := s.SlippageBps(req.Size*m.Price, m.Liquidity, m.SpreadBps)
		trade.Slippage = s.fillSlippage(bps)
		trade.Price = m.Price * (1 - trade.Slippage)
		trade.Size = req.Size
		proceeds := trade.Price * trade.Size
		trade.Fee = proceeds * s.cfg.FeeBps / 10000
		return trade, proceeds - trade.Fee - req.CostBasis, nil
	}
	return domain.Trade{}, 0, fmt.Errorf("unknown trade action %q", req.Action)
}

// fillSlippage converts an estimate to the fraction applied to the fill
// price, capped at MaxSlippageBps.
func (s *Simulator) fillSlippage(bps float64) float64 {
	return math.Min(bps, s.cfg.MaxSlippageBps) / 10000
}

func finalize(t domain.Trade, pnl float64) domain.Trade {
	t.Status = domain.TradeFinal
	if t.Action == domain.TradeExit {
		v := pnl
		t.PnLDelta = &v
	}
	return t
}

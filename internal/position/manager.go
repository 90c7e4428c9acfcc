package position

import (
	"errors"
	"fmt"
	"sort"

	"memetrader/internal/domain"
	"memetrader/internal/execution"
	"memetrader/internal/idhash"
)

// ErrUnknownTrade is returned when acknowledging a trade no position awaits.
var ErrUnknownTrade = execution.ErrUnknownTrade

// Executor fills trades for the Manager. *execution.Simulator implements it.
type Executor interface {
	Execute(req execution.Request) (domain.Trade, error)
	Force(req execution.Request) (domain.Trade, error)
	Confirm(tradeID string) (domain.Trade, error)
	Reject(tradeID string) (domain.Trade, error)
	Cancel(tradeID, reason string) (domain.Trade, error)
	Pending() []domain.Trade
}

var _ Executor = (*execution.Simulator)(nil)

// Outcome is the result of applying one decision.
type Outcome struct {
	Decision domain.Decision // final decision, possibly downgraded or overridden
	Trades   []domain.Trade  // trades produced in this step, in order
}

// Manager is the only writer of position state. Positions live in an arena
// keyed by candidate id holding at most one non-Closed position each.
// Not safe for concurrent use.
type Manager struct {
	cfg Config
	sim Executor

	active     map[string]*domain.Position      // non-Closed, by candidate id
	closed     []domain.Position                // in close order
	lastMarket map[string]domain.MarketSnapshot // latest valid market data, by candidate id
	lastClose  map[string]int64                 // closed-at, by candidate id
	owners     map[string]string                // pending trade id -> candidate id
	attempts   map[string]int                   // exit attempts, by position id
	realized   float64
}

// NewManager creates a Manager after validating cfg.
func NewManager(cfg Config, sim Executor) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg,
		sim:        sim,
		active:     make(map[string]*domain.Position),
		lastMarket: make(map[string]domain.MarketSnapshot),
		lastClose:  make(map[string]int64),
		owners:     make(map[string]string),
		attempts:   make(map[string]int),
	}, nil
}

// HasOpen reports whether the candidate holds an Open position, which is
// the only state a sell decision can act on.
func (m *Manager) HasOpen(candidateID string) bool {
	p, ok := m.active[candidateID]
	return ok && p.State == domain.PositionOpen
}

// Apply runs one decision through the state machine. snap is nil when the
// snapshot was absent; stop-loss and take-profit need a price and are only
// checked when it is present.
func (m *Manager) Apply(d domain.Decision, snap *domain.CombinedSnapshot) (Outcome, error) {
	cid := d.CandidateID
	pos := m.active[cid]

	if snap != nil {
		m.lastMarket[cid] = snap.Market
		if pos != nil {
			pos.LastPrice = snap.Market.Price
		}
	}

	// 1. Stop-loss / take-profit on Open positions
	if pos != nil && pos.State == domain.PositionOpen && snap != nil {
		if reason := m.exitTrigger(pos, snap.Market.Price, d.Timestamp); reason != "" {
			d = d.Override(domain.ActionSell, 1, reason)
			trades, err := m.requestExit(pos, snap.Market, d.Timestamp, reason)
			return Outcome{Decision: d, Trades: trades}, err
		}
	}

	switch d.Action {
	case domain.ActionSell:
		// 2. Sell on Open
		if pos == nil || pos.State != domain.PositionOpen || snap == nil {
			return Outcome{Decision: d.Override(domain.ActionHold, d.Confidence, domain.ReasonNoPositionToSell)}, nil
		}
		trades, err := m.requestExit(pos, snap.Market, d.Timestamp, domain.ReasonExitSignal)
		return Outcome{Decision: d, Trades: trades}, err

	case domain.ActionBuy:
		// 4. Buy with an active position
		if pos != nil {
			reason := domain.ReasonPositionAlreadyOpen
			switch pos.State {
			case domain.PositionWatching:
				reason = domain.ReasonEntryPending
			case domain.PositionClosing:
				reason = domain.ReasonExitPending
			}
			return Outcome{Decision: d.Override(domain.ActionHold, d.Confidence, reason)}, nil
		}
		if snap == nil {
			return Outcome{Decision: d.Override(domain.ActionHold, d.Confidence, domain.ReasonMissingMarket)}, nil
		}

		// 3. Risk limits, then entry
		var riskErr *RiskError
		if err := m.checkRisk(d); errors.As(err, &riskErr) {
			return Outcome{Decision: d.Override(domain.ActionHold, d.Confidence, domain.ReasonRiskLimitExceeded, riskErr.Code)}, nil
		}
		return m.requestEntry(d, snap.Market)
	}

	return Outcome{Decision: d}, nil
}

// Acknowledge applies an external confirm or reject to a pending trade.
func (m *Manager) Acknowledge(tradeID string, accept bool) (domain.Trade, error) {
	cid, ok := m.owners[tradeID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("%w: %s", ErrUnknownTrade, tradeID)
	}
	pos := m.active[cid]

	var (
		trade domain.Trade
		err   error
	)
	if accept {
		trade, err = m.sim.Confirm(tradeID)
	} else {
		trade, err = m.sim.Reject(tradeID)
	}
	if err != nil {
		return domain.Trade{}, err
	}
	delete(m.owners, tradeID)

	switch {
	case accept && trade.Action == domain.TradeEnter:
		m.open(pos, trade)
	case accept && trade.Action == domain.TradeExit:
		m.close(pos, trade)
	case trade.Action == domain.TradeEnter:
		// Back to Watching: no position exists until an entry fills.
		delete(m.active, cid)
	default:
		pos.State = domain.PositionOpen
	}
	return trade, nil
}

// Liquidate cancels pending trades and force-closes every non-Closed
// position at its last known price, in candidate id order. It returns the
// produced trades and the number of positions force-closed.
func (m *Manager) Liquidate(ts int64) ([]domain.Trade, int, error) {
	ids := make([]string, 0, len(m.active))
	for cid := range m.active {
		ids = append(ids, cid)
	}
	sort.Strings(ids)

	var (
		trades     []domain.Trade
		liquidated int
	)
	for _, cid := range ids {
		pos := m.active[cid]

		if tradeID := m.pendingTradeFor(cid); tradeID != "" {
			t, err := m.sim.Cancel(tradeID, domain.ReasonRunEndCancelled)
			if err != nil {
				return trades, liquidated, err
			}
			delete(m.owners, tradeID)
			trades = append(trades, t)
		}

		if pos.State == domain.PositionWatching {
			delete(m.active, cid)
			continue
		}

		pos.State = domain.PositionClosing
		req := m.exitRequest(pos, m.lastMarket[cid], ts, domain.ReasonRunEndLiquidation)
		t, err := m.sim.Force(req)
		if err != nil {
			return trades, liquidated, fmt.Errorf("liquidate %s: %w", cid, err)
		}
		m.close(pos, t)
		trades = append(trades, t)
		liquidated++
	}
	return trades, liquidated, nil
}

// Get returns a copy of the candidate's non-Closed position.
func (m *Manager) Get(candidateID string) (domain.Position, bool) {
	p, ok := m.active[candidateID]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Active returns copies of non-Closed positions ordered by candidate id.
func (m *Manager) Active() []domain.Position {
	out := make([]domain.Position, 0, len(m.active))
	for _, p := range m.active {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	return out
}

// Closed returns copies of closed positions in close order.
func (m *Manager) Closed() []domain.Position {
	out := make([]domain.Position, len(m.closed))
	copy(out, m.closed)
	return out
}

// RealizedPnL returns the sum of realized P&L over closed positions,
// accumulated in close order.
func (m *Manager) RealizedPnL() float64 {
	return m.realized
}

func (m *Manager) exitTrigger(pos *domain.Position, price float64, ts int64) string {
	if pos.StopLossPrice > 0 && price <= pos.StopLossPrice {
		return domain.ReasonStopLossTriggered
	}
	if pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice {
		return domain.ReasonTakeProfitTriggered
	}
	if m.cfg.MaxHoldTime > 0 && ts-pos.OpenedAt >= m.cfg.MaxHoldTime.Milliseconds() {
		return domain.ReasonTimeStop
	}
	return ""
}

func (m *Manager) requestEntry(d domain.Decision, market domain.MarketSnapshot) (Outcome, error) {
	posID := idhash.ComputePositionID(d.CandidateID, d.Timestamp)
	tradeID := idhash.ComputeTradeID(posID, string(domain.TradeEnter), d.Timestamp, 0)

	trade, err := m.sim.Execute(execution.Request{
		TradeID:     tradeID,
		PositionID:  posID,
		CandidateID: d.CandidateID,
		Action:      domain.TradeEnter,
		Timestamp:   d.Timestamp,
		Reason:      domain.ReasonEntrySignal,
		Market:      market,
		Notional:    m.cfg.PositionSizeUSD,
	})
	if errors.Is(err, execution.ErrSlippageTooHigh) {
		return Outcome{Decision: d.Override(domain.ActionHold, d.Confidence, domain.ReasonSlippageTooHigh)}, nil
	}
	if err != nil {
		return Outcome{Decision: d}, fmt.Errorf("enter %s: %w", d.CandidateID, err)
	}

	pos := &domain.Position{
		ID:          posID,
		CandidateID: d.CandidateID,
		State:       domain.PositionWatching,
		LastPrice:   market.Price,
	}
	m.active[d.CandidateID] = pos

	if trade.Status == domain.TradeFinal {
		m.open(pos, trade)
	} else {
		m.owners[tradeID] = d.CandidateID
	}
	return Outcome{Decision: d, Trades: []domain.Trade{trade}}, nil
}

func (m *Manager) requestExit(pos *domain.Position, market domain.MarketSnapshot, ts int64, reason string) ([]domain.Trade, error) {
	pos.State = domain.PositionClosing
	trade, err := m.sim.Execute(m.exitRequest(pos, market, ts, reason))
	if err != nil {
		pos.State = domain.PositionOpen
		return nil, fmt.Errorf("exit %s: %w", pos.CandidateID, err)
	}
	if trade.Status == domain.TradeFinal {
		m.close(pos, trade)
	} else {
		m.owners[trade.TradeID] = pos.CandidateID
	}
	return []domain.Trade{trade}, nil
}

func (m *Manager) exitRequest(pos *domain.Position, market domain.MarketSnapshot, ts int64, reason string) execution.Request {
	attempt := m.attempts[pos.ID]
	m.attempts[pos.ID] = attempt + 1
	if market.Price <= 0 {
		market = domain.MarketSnapshot{CandidateID: pos.CandidateID, Price: pos.LastPrice}
	}
	return execution.Request{
		TradeID:     idhash.ComputeTradeID(pos.ID, string(domain.TradeExit), ts, attempt),
		PositionID:  pos.ID,
		CandidateID: pos.CandidateID,
		Action:      domain.TradeExit,
		Timestamp:   ts,
		Reason:      reason,
		Market:      market,
		Size:        pos.Size,
		CostBasis:   pos.EntryNotional,
	}
}

func (m *Manager) open(pos *domain.Position, trade domain.Trade) {
	pos.State = domain.PositionOpen
	pos.EntryPrice = trade.Price
	pos.Size = trade.Size
	pos.EntryNotional = trade.Notional() + trade.Fee
	pos.OpenedAt = trade.Timestamp
	if m.cfg.StopLossPct > 0 {
		pos.StopLossPrice = trade.Price * (1 - m.cfg.StopLossPct)
	}
	if m.cfg.TakeProfitPct > 0 {
		pos.TakeProfitPrice = trade.Price * (1 + m.cfg.TakeProfitPct)
	}
}

func (m *Manager) close(pos *domain.Position, trade domain.Trade) {
	closedAt := trade.Timestamp
	pnl := 0.0
	if trade.PnLDelta != nil {
		pnl = *trade.PnLDelta
	}
	pos.State = domain.PositionClosed
	pos.ClosedAt = &closedAt
	pos.RealizedPnL = &pnl
	pos.ExitReason = trade.Reason

	m.realized += pnl
	m.closed = append(m.closed, *pos)
	m.lastClose[pos.CandidateID] = closedAt
	delete(m.active, pos.CandidateID)
}

func (m *Manager) pendingTradeFor(candidateID string) string {
	for _, t := range m.sim.Pending() {
		if m.owners[t.TradeID] == candidateID {
			return t.TradeID
		}
	}
	return ""
}

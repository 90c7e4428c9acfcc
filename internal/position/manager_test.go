package position

import (
	"errors"
	"testing"
	"time"

	"memetrader/internal/domain"
	"memetrader/internal/execution"
)

const testSigner = "11111111111111111111111111111111"

func newManager(t *testing.T, mode execution.Mode, mutate func(*Config)) *Manager {
	t.Helper()
	ecfg := execution.DefaultConfig()
	ecfg.Mode = mode
	ecfg.SignerPubkey = testSigner
	sim, err := execution.NewSimulator(ecfg)
	if err != nil {
		t.Fatalf("NewSimulator failed: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg, sim)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func snap(cid string, ts int64, price float64) *domain.CombinedSnapshot {
	return &domain.CombinedSnapshot{
		CandidateID: cid,
		Timestamp:   ts,
		Market:      domain.MarketSnapshot{CandidateID: cid, Timestamp: ts, Price: price, Liquidity: 1_000_000},
		Chain:       domain.ChainSnapshot{CandidateID: cid, Timestamp: ts},
	}
}

func decision(cid string, ts int64, action domain.Action, reason string) domain.Decision {
	return domain.Decision{CandidateID: cid, Timestamp: ts, Action: action, Confidence: 0.8, Reasons: []string{reason}}
}

func buy(cid string, ts int64) domain.Decision {
	return decision(cid, ts, domain.ActionBuy, domain.ReasonScoreAboveBuyThreshold)
}

func hold(cid string, ts int64) domain.Decision {
	return decision(cid, ts, domain.ActionHold, domain.ReasonScoreWithinBand)
}

func apply(t *testing.T, m *Manager, d domain.Decision, s *domain.CombinedSnapshot) Outcome {
	t.Helper()
	out, err := m.Apply(d, s)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	return out
}

func TestManager_StopLossClosesWithLoss(t *testing.T) {
	m := newManager(t, execution.ModeAuto, nil)

	out := apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1.0))
	if len(out.Trades) != 1 || out.Trades[0].Status != domain.TradeFinal {
		t.Fatalf("Expected one final entry trade, got %+v", out.Trades)
	}
	pos, ok := m.Get("mintA")
	if !ok || pos.State != domain.PositionOpen {
		t.Fatalf("Expected Open position, got %+v", pos)
	}

	// Still above stop
	out = apply(t, m, hold("mintA", 2000), snap("mintA", 2000, 0.9))
	if len(out.Trades) != 0 || out.Decision.Action != domain.ActionHold {
		t.Fatalf("Expected no exit above stop, got %+v", out)
	}

	// Below stop: exits on this tick
	out = apply(t, m, hold("mintA", 3000), snap("mintA", 3000, 0.7))
	if out.Decision.Action != domain.ActionSell || out.Decision.PrimaryReason() != domain.ReasonStopLossTriggered {
		t.Errorf("Expected sell/stop_loss_triggered, got %s/%v", out.Decision.Action, out.Decision.Reasons)
	}
	if len(out.Trades) != 1 {
		t.Fatalf("Expected one exit trade, got %d", len(out.Trades))
	}
	exit := out.Trades[0]
	if exit.Action != domain.TradeExit || exit.PnLDelta == nil || *exit.PnLDelta >= 0 {
		t.Errorf("Expected exit with negative pnl, got %+v", exit)
	}

	if _, ok := m.Get("mintA"); ok {
		t.Error("Expected no active position after stop-loss")
	}
	closed := m.Closed()
	if len(closed) != 1 || closed[0].State != domain.PositionClosed || closed[0].RealizedPnL == nil {
		t.Fatalf("Expected one closed position, got %+v", closed)
	}
	if *closed[0].RealizedPnL != *exit.PnLDelta || m.RealizedPnL() != *exit.PnLDelta {
		t.Error("Realized pnl must equal the exit trade pnl_delta")
	}
}

func TestManager_TakeProfit(t *testing.T) {
	m := newManager(t, execution.ModeAuto, nil)
	apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1.0))

	out := apply(t, m, hold("mintA", 2000), snap("mintA", 2000, 2.0))

	if out.Decision.PrimaryReason() != domain.ReasonTakeProfitTriggered {
		t.Errorf("Expected take_profit_triggered, got %v", out.Decision.Reasons)
	}
	if len(out.Trades) != 1 || *out.Trades[0].PnLDelta <= 0 {
		t.Errorf("Expected profitable exit, got %+v", out.Trades)
	}
}

func TestManager_TimeStop(t *testing.T) {
	m := newManager(t, execution.ModeAuto, func(c *Config) { c.MaxHoldTime = time.Minute })
	apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1.0))

	out := apply(t, m, hold("mintA", 60_999), snap("mintA", 60_999, 1.0))
	if len(out.Trades) != 0 {
		t.Fatalf("Expected no exit before max hold time, got %+v", out.Trades)
	}

	// No price, no exit.
	out = apply(t, m, hold("mintA", 61_000), nil)
	if len(out.Trades) != 0 {
		t.Fatalf("Expected no exit without a snapshot, got %+v", out.Trades)
	}

	out = apply(t, m, hold("mintA", 62_000), snap("mintA", 62_000, 1.0))
	if out.Decision.Action != domain.ActionSell || out.Decision.PrimaryReason() != domain.ReasonTimeStop {
		t.Errorf("Expected sell/time_stop, got %s/%v", out.Decision.Action, out.Decision.Reasons)
	}
	if len(out.Trades) != 1 || out.Trades[0].Action != domain.TradeExit || out.Trades[0].Reason != domain.ReasonTimeStop {
		t.Fatalf("Expected one time_stop exit trade, got %+v", out.Trades)
	}
	if _, ok := m.Get("mintA"); ok {
		t.Error("Expected no active position after time stop")
	}
}

func TestManager_StopLossBeforeTimeStop(t *testing.T) {
	m := newManager(t, execution.ModeAuto, func(c *Config) { c.MaxHoldTime = time.Second })
	apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1.0))

	out := apply(t, m, hold("mintA", 5000), snap("mintA", 5000, 0.5))
	if out.Decision.PrimaryReason() != domain.ReasonStopLossTriggered {
		t.Errorf("Expected stop_loss_triggered to win, got %v", out.Decision.Reasons)
	}
}

func TestManager_RiskLimits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		setup  func(*testing.T, *Manager)
		conf   float64
		code   string
	}{
		{
			name:   "max open positions",
			mutate: func(c *Config) { c.MaxOpenPositions = 1 },
			setup: func(t *testing.T, m *Manager) {
				apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1))
			},
			conf: 0.8,
			code: domain.ReasonMaxOpenPositions,
		},
		{
			name: "min confidence",
			conf: 0.2,
			code: domain.ReasonMinConfidence,
		},
		{
			name:   "max exposure",
			mutate: func(c *Config) { c.MaxExposurePerCandidateUSD = 50 },
			conf:   0.8,
			code:   domain.ReasonMaxExposure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, execution.ModeAuto, tt.mutate)
			if tt.setup != nil {
				tt.setup(t, m)
			}

			d := buy("mintB", 2000)
			d.Confidence = tt.conf
			out := apply(t, m, d, snap("mintB", 2000, 1))

			if out.Decision.Action != domain.ActionHold {
				t.Errorf("Expected downgrade to hold, got %s", out.Decision.Action)
			}
			want := []string{domain.ReasonRiskLimitExceeded, tt.code, domain.ReasonScoreAboveBuyThreshold}
			if len(out.Decision.Reasons) != 3 || out.Decision.Reasons[0] != want[0] || out.Decision.Reasons[1] != want[1] {
				t.Errorf("Expected reasons %v, got %v", want, out.Decision.Reasons)
			}
			if len(out.Trades) != 0 {
				t.Error("Risk-limited buy must not trade")
			}
			if _, ok := m.Get("mintB"); ok {
				t.Error("Risk-limited buy must not create a position")
			}
		})
	}
}

func TestManager_RiskErrorWrapsTaxonomy(t *testing.T) {
	m := newManager(t, execution.ModeAuto, nil)
	d := buy("mintA", 1000)
	d.Confidence = 0

	err := m.checkRisk(d)
	if !errors.Is(err, domain.ErrRiskLimitExceeded) {
		t.Errorf("Expected ErrRiskLimitExceeded, got %v", err)
	}
}

func TestManager_Cooldown(t *testing.T) {
	m := newManager(t, execution.ModeAuto, func(c *Config) { c.Cooldown = 10_000_000_000 }) // 10s
	apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1))
	apply(t, m, decision("mintA", 2000, domain.ActionSell, domain.ReasonScoreBelowSellThreshold), snap("mintA", 2000, 1))

	out := apply(t, m, buy("mintA", 5000), snap("mintA", 5000, 1))
	if len(out.Decision.Reasons) < 2 || out.Decision.Reasons[1] != domain.ReasonCooldownActive {
		t.Errorf("Expected cooldown_active, got %v", out.Decision.Reasons)
	}

	out = apply(t, m, buy("mintA", 20000), snap("mintA", 20000, 1))
	if out.Decision.Action != domain.ActionBuy {
		t.Errorf("Expected re-entry after cooldown, got %s %v", out.Decision.Action, out.Decision.Reasons)
	}
}

func TestManager_ConfirmModeLifecycle(t *testing.T) {
	m := newManager(t, execution.ModeConfirm, nil)

	out := apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1))
	entry := out.Trades[0]
	if entry.Status != domain.TradePending {
		t.Fatalf("Expected pending entry, got %s", entry.Status)
	}
	pos, _ := m.Get("mintA")
	if pos.State != domain.PositionWatching {
		t.Fatalf("Expected Watching while entry pending, got %s", pos.State)
	}

	out = apply(t, m, buy("mintA", 2000), snap("mintA", 2000, 1))
	if out.Decision.Action != domain.ActionHold || out.Decision.PrimaryReason() != domain.ReasonEntryPending {
		t.Errorf("Expected hold/entry_pending, got %s/%v", out.Decision.Action, out.Decision.Reasons)
	}

	if _, err := m.Acknowledge(entry.TradeID, true); err != nil {
		t.Fatalf("Acknowledge entry failed: %v", err)
	}
	if !m.HasOpen("mintA") {
		t.Fatal("Expected Open after confirmed entry")
	}

	out = apply(t, m, decision("mintA", 3000, domain.ActionSell, domain.ReasonScoreBelowSellThreshold), snap("mintA", 3000, 1))
	exit := out.Trades[0]
	pos, _ = m.Get("mintA")
	if pos.State != domain.PositionClosing || exit.Status != domain.TradePending {
		t.Fatalf("Expected Closing with pending exit, got %s/%s", pos.State, exit.Status)
	}

	rejected, err := m.Acknowledge(exit.TradeID, false)
	if err != nil {
		t.Fatalf("Acknowledge reject failed: %v", err)
	}
	if rejected.Status != domain.TradeRejected {
		t.Errorf("Expected rejected trade, got %s", rejected.Status)
	}
	if !m.HasOpen("mintA") {
		t.Fatal("Rejected exit must return the position to Open")
	}

	out = apply(t, m, decision("mintA", 3000, domain.ActionSell, domain.ReasonScoreBelowSellThreshold), snap("mintA", 3000, 1))
	if out.Trades[0].TradeID == exit.TradeID {
		t.Error("Retried exit must get a new trade id")
	}
	final, err := m.Acknowledge(out.Trades[0].TradeID, true)
	if err != nil {
		t.Fatalf("Acknowledge exit failed: %v", err)
	}
	if final.PnLDelta == nil || len(m.Closed()) != 1 {
		t.Error("Expected closed position with pnl after confirmed exit")
	}
}

func TestManager_RejectedEntryReturnsToWatching(t *testing.T) {
	m := newManager(t, execution.ModeConfirm, nil)
	out := apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1))

	if _, err := m.Acknowledge(out.Trades[0].TradeID, false); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if _, ok := m.Get("mintA"); ok {
		t.Error("Expected no position after rejected entry")
	}
	if len(m.Closed()) != 0 {
		t.Error("Rejected entry must not produce a closed position")
	}
}

func TestManager_AcknowledgeUnknown(t *testing.T) {
	m := newManager(t, execution.ModeConfirm, nil)
	if _, err := m.Acknowledge("nope", true); !errors.Is(err, ErrUnknownTrade) {
		t.Errorf("Expected ErrUnknownTrade, got %v", err)
	}
}

func TestManager_LiquidateClosesEverything(t *testing.T) {
	m := newManager(t, execution.ModeConfirm, nil)

	// mintA: Open
	out := apply(t, m, buy("mintA", 1000), snap("mintA", 1000, 1))
	if _, err := m.Acknowledge(out.Trades[0].TradeID, true); err != nil {
		t.Fatal(err)
	}
	// mintB: Closing with pending exit
	out = apply(t, m, buy("mintB", 1000), snap("mintB", 1000, 1))
	if _, err := m.Acknowledge(out.Trades[0].TradeID, true); err != nil {
		t.Fatal(err)
	}
	apply(t, m, decision("mintB", 2000, domain.ActionSell, domain.ReasonScoreBelowSellThreshold), snap("mintB", 2000, 1))
	// mintC: Watching with pending entry
	apply(t, m, buy("mintC", 2000), snap("mintC", 2000, 1))

	trades, liquidated, err := m.Liquidate(3000)
	if err != nil {
		t.Fatalf("Liquidate failed: %v", err)
	}

	if liquidated != 2 {
		t.Errorf("Expected 2 liquidated positions, got %d", liquidated)
	}
	if len(m.Active()) != 0 {
		t.Errorf("Expected no active positions, got %+v", m.Active())
	}

	var final, cancelled int
	for _, tr := range trades {
		switch tr.Status {
		case domain.TradeFinal:
			final++
			if tr.Reason != domain.ReasonRunEndLiquidation || tr.PnLDelta == nil {
				t.Errorf("Expected run_end_liquidation with pnl, got %+v", tr)
			}
		case domain.TradeRejected:
			cancelled++
			if tr.Reason != domain.ReasonRunEndCancelled {
				t.Errorf("Expected run_end_cancelled, got %s", tr.Reason)
			}
		}
	}
	if final != 2 || cancelled != 2 {
		t.Errorf("Expected 2 final and 2 cancelled trades, got %d/%d", final, cancelled)
	}
	for _, p := range m.Closed() {
		if p.State != domain.PositionClosed || p.ClosedAt == nil {
			t.Errorf("Expected Closed with closed_at, got %+v", p)
		}
	}
}

func TestManager_SellWithoutPositionHolds(t *testing.T) {
	m := newManager(t, execution.ModeAuto, nil)
	out := apply(t, m, decision("mintA", 1000, domain.ActionSell, domain.ReasonScoreBelowSellThreshold), snap("mintA", 1000, 1))
	if out.Decision.Action != domain.ActionHold || len(out.Trades) != 0 {
		t.Errorf("Expected hold without trades, got %+v", out)
	}
}

// Package position owns the per-candidate position state machine.
package position

import (
	"time"

	"memetrader/internal/domain"
)

// Config holds sizing and risk limits.
type Config struct {
	PositionSizeUSD            float64       `yaml:"position_size_usd" json:"position_size_usd"`
	MaxOpenPositions           int           `yaml:"max_open_positions" json:"max_open_positions"`
	MaxExposurePerCandidateUSD float64       `yaml:"max_exposure_per_candidate_usd" json:"max_exposure_per_candidate_usd"`
	MinConfidence              float64       `yaml:"min_confidence" json:"min_confidence"`
	StopLossPct                float64       `yaml:"stop_loss_pct" json:"stop_loss_pct"`     // 0.2 = exit 20% below entry, 0 disables
	TakeProfitPct              float64       `yaml:"take_profit_pct" json:"take_profit_pct"` // 0.5 = exit 50% above entry, 0 disables
	Cooldown                   time.Duration `yaml:"cooldown" json:"cooldown"`               // re-entry lockout after a close
	MaxHoldTime                time.Duration `yaml:"max_hold_time" json:"max_hold_time"`     // exit once open this long, 0 disables
}

// DefaultConfig returns the default risk limits.
func DefaultConfig() Config {
	return Config{
		PositionSizeUSD:            100,
		MaxOpenPositions:           5,
		MaxExposurePerCandidateUSD: 250,
		MinConfidence:              0.5,
		StopLossPct:                0.2,
		TakeProfitPct:              0.5,
		Cooldown:                   5 * time.Minute,
	}
}

// Validate checks the limits.
func (c Config) Validate() error {
	switch {
	case c.PositionSizeUSD <= 0:
		return &domain.ConfigurationError{Field: "risk.position_size_usd", Reason: "must be positive"}
	case c.MaxOpenPositions < 1:
		return &domain.ConfigurationError{Field: "risk.max_open_positions", Reason: "must be at least 1"}
	case c.MaxExposurePerCandidateUSD <= 0:
		return &domain.ConfigurationError{Field: "risk.max_exposure_per_candidate_usd", Reason: "must be positive"}
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return &domain.ConfigurationError{Field: "risk.min_confidence", Reason: "must be within 0-1"}
	case c.StopLossPct < 0 || c.StopLossPct >= 1:
		return &domain.ConfigurationError{Field: "risk.stop_loss_pct", Reason: "must be within [0, 1)"}
	case c.TakeProfitPct < 0:
		return &domain.ConfigurationError{Field: "risk.take_profit_pct", Reason: "must be non-negative"}
	case c.Cooldown < 0:
		return &domain.ConfigurationError{Field: "risk.cooldown", Reason: "must be non-negative"}
	case c.MaxHoldTime < 0:
		return &domain.ConfigurationError{Field: "risk.max_hold_time", Reason: "must be non-negative"}
	}
	return nil
}

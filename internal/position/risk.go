package position

import (
	"fmt"

	"memetrader/internal/domain"
)

// RiskError names the limit an entry would breach.
type RiskError struct {
	Code string // reason code of the breached limit
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("%s: %s", domain.ErrRiskLimitExceeded, e.Code)
}

// Unwrap allows errors.Is(err, domain.ErrRiskLimitExceeded).
func (e *RiskError) Unwrap() error {
	return domain.ErrRiskLimitExceeded
}

// checkRisk evaluates entry limits in fixed order.
func (m *Manager) checkRisk(d domain.Decision) error {
	if closedAt, ok := m.lastClose[d.CandidateID]; ok && m.cfg.Cooldown > 0 {
		if d.Timestamp-closedAt < m.cfg.Cooldown.Milliseconds() {
			return &RiskError{Code: domain.ReasonCooldownActive}
		}
	}
	if d.Confidence < m.cfg.MinConfidence {
		return &RiskError{Code: domain.ReasonMinConfidence}
	}
	if len(m.active) >= m.cfg.MaxOpenPositions {
		return &RiskError{Code: domain.ReasonMaxOpenPositions}
	}
	if m.cfg.PositionSizeUSD > m.cfg.MaxExposurePerCandidateUSD {
		return &RiskError{Code: domain.ReasonMaxExposure}
	}
	return nil
}

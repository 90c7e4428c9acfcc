// Package execution simulates fills against a slippage and liquidity model.
package execution

import (
	"fmt"

	"github.com/mr-tron/base58"

	"memetrader/internal/domain"
)

// Mode selects how simulated trades are finalized.
type Mode string

const (
	// ModeConfirm records trades as pending until Confirm or Reject.
	ModeConfirm Mode = "confirm"
	// ModeAuto finalizes trades in the same evaluation step.
	ModeAuto Mode = "auto"
)

// AckPolicy resolves pending trades without an external acknowledgment.
type AckPolicy string

const (
	AckNone        AckPolicy = "none"
	AckAutoConfirm AckPolicy = "auto_confirm"
	AckAutoReject  AckPolicy = "auto_reject"
)

// Config holds execution parameters. All bps values are basis points.
type Config struct {
	Mode           Mode      `yaml:"mode" json:"mode"`
	SignerPubkey   string    `yaml:"signer_pubkey" json:"-"`
	AckPolicy      AckPolicy `yaml:"ack_policy" json:"ack_policy"`
	MinSlippageBps float64   `yaml:"min_slippage_bps" json:"min_slippage_bps"`
	MaxSlippageBps float64   `yaml:"max_slippage_bps" json:"max_slippage_bps"`
	ImpactBps      float64   `yaml:"impact_bps" json:"impact_bps"`             // bps per unit of notional/liquidity
	FeeBps         float64   `yaml:"fee_bps" json:"fee_bps"`                   // per side
	RejectAboveBps float64   `yaml:"reject_above_bps" json:"reject_above_bps"` // entries only, 0 disables
}

// DefaultConfig returns the default execution parameters.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeConfirm,
		AckPolicy:      AckNone,
		MinSlippageBps: 10,
		MaxSlippageBps: 5000,
		ImpactBps:      10000,
		FeeBps:         30,
		RejectAboveBps: 300,
	}
}

// Validate checks mode, signer and slippage bounds.
// Auto mode without a valid signer public key is a ConfigurationError.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeConfirm:
	case ModeAuto:
		if c.SignerPubkey == "" {
			return &domain.ConfigurationError{Field: "trading.signer_pubkey", Reason: "auto mode requires a signer"}
		}
		key, err := base58.Decode(c.SignerPubkey)
		if err != nil || len(key) != 32 {
			return &domain.ConfigurationError{Field: "trading.signer_pubkey", Reason: "not a base58 ed25519 public key"}
		}
	default:
		return &domain.ConfigurationError{Field: "trading.mode", Reason: fmt.Sprintf("unknown mode %q", c.Mode)}
	}

	switch c.AckPolicy {
	case AckNone, AckAutoConfirm, AckAutoReject:
	default:
		return &domain.ConfigurationError{Field: "trading.ack_policy", Reason: fmt.Sprintf("unknown policy %q", c.AckPolicy)}
	}

	if c.MinSlippageBps < 0 || c.MaxSlippageBps < c.MinSlippageBps || c.MaxSlippageBps >= 10000 {
		return &domain.ConfigurationError{Field: "trading.max_slippage_bps", Reason: "need 0 <= min <= max < 10000"}
	}
	if c.ImpactBps < 0 || c.FeeBps < 0 || c.RejectAboveBps < 0 {
		return &domain.ConfigurationError{Field: "trading", Reason: "impact, fee and reject bps must be non-negative"}
	}
	return nil
}

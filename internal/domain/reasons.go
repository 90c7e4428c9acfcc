package domain

// Absence reason codes.
const (
	ReasonMissingMarket = "missing_market"
	ReasonMissingChain  = "missing_chain"
	ReasonInvalidData   = "invalid_data"
)

// Disqualifier reason codes, listed in evaluation order.
const (
	ReasonMintAuthorityNotRevoked   = "mint_authority_not_revoked"
	ReasonFreezeAuthorityNotRevoked = "freeze_authority_not_revoked"
	ReasonLPUnlocked                = "lp_unlocked"
	ReasonLowLiquidity              = "low_liquidity"
	ReasonHolderConcentrationHigh   = "holder_concentration_high"
	ReasonTokenTooYoung             = "token_too_young"
	ReasonSpreadTooWide             = "spread_too_wide"
)

// Weighted scoring reason codes.
const (
	ReasonScoreAboveBuyThreshold  = "score_above_buy_threshold"
	ReasonScoreBelowSellThreshold = "score_below_sell_threshold"
	ReasonScoreWithinBand         = "score_within_band"
	ReasonNoPositionToSell        = "no_position_to_sell"
)

// Risk and position reason codes.
const (
	ReasonRiskLimitExceeded   = "risk_limit_exceeded"
	ReasonMaxOpenPositions    = "max_open_positions"
	ReasonMaxExposure         = "max_exposure_per_candidate"
	ReasonMinConfidence       = "min_confidence"
	ReasonCooldownActive      = "cooldown_active"
	ReasonSlippageTooHigh     = "slippage_too_high"
	ReasonPositionAlreadyOpen = "position_already_open"
	ReasonEntryPending        = "entry_pending"
	ReasonExitPending         = "exit_pending"
	ReasonStopLossTriggered   = "stop_loss_triggered"
	ReasonTakeProfitTriggered = "take_profit_triggered"
	ReasonTimeStop            = "time_stop"
)

// Trade reason codes.
const (
	ReasonEntrySignal       = "entry_signal"
	ReasonExitSignal        = "exit_signal"
	ReasonRunEndLiquidation = "run_end_liquidation"
	ReasonRunEndCancelled   = "run_end_cancelled"
	ReasonExecutionRejected = "execution_rejected"
)

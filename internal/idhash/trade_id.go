package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePositionID computes a deterministic position_id using SHA256.
// Formula: SHA256(candidate_id|requested_at)
// Returns hex-encoded hash (64 characters).
func ComputePositionID(candidateID string, requestedAt int64) string {
	data := fmt.Sprintf("%s|%d", candidateID, requestedAt)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(position_id|action|ts|attempt)
// attempt distinguishes repeated exit requests after a rejection.
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(positionID string, action string, ts int64, attempt int) string {
	data := fmt.Sprintf("%s|%s|%d|%d",
		positionID,
		action,
		ts,
		attempt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

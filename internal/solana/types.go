package solana

import "strconv"

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// TokenAmount is an SPL token quantity as returned by the RPC.
type TokenAmount struct {
	Amount         string   `json:"amount"` // raw u64 as a decimal string
	Decimals       uint8    `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// Raw parses Amount. Unparseable amounts are 0.
func (a TokenAmount) Raw() uint64 {
	v, err := strconv.ParseUint(a.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// TokenAccountBalance is one entry of getTokenLargestAccounts.
type TokenAccountBalance struct {
	Address string `json:"address"`
	TokenAmount
}

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"` // Unix seconds
	Err       any    `json:"err"`
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// SlotNotification is a slotSubscribe message.
type SlotNotification struct {
	Slot   int64 `json:"slot"`
	Parent int64 `json:"parent"`
	Root   int64 `json:"root"`
}

package solana

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program ids.
const (
	TokenProgramID    = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	MetaplexProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
)

// ErrInvalidAccountData is returned when account bytes do not match the
// expected layout.
var ErrInvalidAccountData = errors.New("invalid account data")

const (
	mintSize         = 82
	tokenAccountSize = 165
)

// Mint is a decoded SPL token mint account.
//
// Layout (82 bytes):
//   - mintAuthority: COption<Pubkey> (4 + 32)
//   - supply: u64
//   - decimals: u8
//   - isInitialized: bool
//   - freezeAuthority: COption<Pubkey> (4 + 32)
type Mint struct {
	MintAuthority   *string // nil when revoked
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *string // nil when revoked
}

// DecodeMint decodes base64 mint account data.
func DecodeMint(data string) (*Mint, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode mint data: %v", ErrInvalidAccountData, err)
	}
	if len(raw) < mintSize {
		return nil, fmt.Errorf("%w: mint data too short: %d", ErrInvalidAccountData, len(raw))
	}

	m := &Mint{
		Supply:        binary.LittleEndian.Uint64(raw[36:44]),
		Decimals:      raw[44],
		IsInitialized: raw[45] == 1,
	}
	if m.MintAuthority, err = decodeCOptionPubkey(raw[0:36]); err != nil {
		return nil, fmt.Errorf("mint authority: %w", err)
	}
	if m.FreezeAuthority, err = decodeCOptionPubkey(raw[46:82]); err != nil {
		return nil, fmt.Errorf("freeze authority: %w", err)
	}
	return m, nil
}

func decodeCOptionPubkey(b []byte) (*string, error) {
	switch binary.LittleEndian.Uint32(b[:4]) {
	case 0:
		return nil, nil
	case 1:
		key := base58.Encode(b[4:36])
		return &key, nil
	default:
		return nil, fmt.Errorf("%w: bad option tag", ErrInvalidAccountData)
	}
}

// TokenAccount is the prefix of an SPL token account we read.
// Layout: mint(32) | owner(32) | amount(8) | ...
type TokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

// DecodeTokenAccount decodes base64 token account data.
func DecodeTokenAccount(data string) (*TokenAccount, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode token account data: %v", ErrInvalidAccountData, err)
	}
	if len(raw) < 72 {
		return nil, fmt.Errorf("%w: token account data too short: %d", ErrInvalidAccountData, len(raw))
	}
	return &TokenAccount{
		Mint:   base58.Encode(raw[0:32]),
		Owner:  base58.Encode(raw[32:64]),
		Amount: binary.LittleEndian.Uint64(raw[64:72]),
	}, nil
}

// IsOnCurve reports whether the base58 address is a valid ed25519 point.
// Program derived addresses, such as AMM pool authorities, are off-curve.
func IsOnCurve(address string) bool {
	b, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return isOnCurve(b)
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// FindProgramAddress derives the program derived address for seeds, trying
// bump seeds from 255 down until the hash is off-curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := base58.Decode(programID)
	if err != nil || len(program) != 32 {
		return "", 0, fmt.Errorf("invalid program id %q", programID)
	}

	for bump := 255; bump > 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, errors.New("no viable bump seed")
}

// MetadataAddress returns the Metaplex metadata account of a mint.
// Seeds: ["metadata", metaplex_program_id, mint]
func MetadataAddress(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil || len(mintBytes) != 32 {
		return "", fmt.Errorf("invalid mint %q", mint)
	}
	program, _ := base58.Decode(MetaplexProgramID)
	addr, _, err := FindProgramAddress([][]byte{[]byte("metadata"), program, mintBytes}, MetaplexProgramID)
	return addr, err
}

// Metadata holds the Metaplex name and symbol of a token.
type Metadata struct {
	Name   string
	Symbol string
}

// DecodeMetadata parses base64 Metaplex metadata account data.
//
// Layout: key(1, 4 for MetadataV1) | updateAuthority(32) | mint(32) |
// name(borsh string) | symbol(borsh string) | ...
func DecodeMetadata(data string) (*Metadata, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrInvalidAccountData, err)
	}
	if len(raw) < 69 || raw[0] != 4 {
		return nil, fmt.Errorf("%w: not a metadata v1 account", ErrInvalidAccountData)
	}

	offset := 65
	name, offset, err := borshString(raw, offset, 100)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	symbol, _, err := borshString(raw, offset, 20)
	if err != nil {
		return nil, fmt.Errorf("symbol: %w", err)
	}
	return &Metadata{Name: name, Symbol: symbol}, nil
}

func borshString(raw []byte, offset, maxLen int) (string, int, error) {
	if offset+4 > len(raw) {
		return "", offset, fmt.Errorf("%w: truncated length", ErrInvalidAccountData)
	}
	n := int(binary.LittleEndian.Uint32(raw[offset:]))
	offset += 4
	if n > maxLen || offset+n > len(raw) {
		return "", offset, fmt.Errorf("%w: bad string length %d", ErrInvalidAccountData, n)
	}
	s := strings.TrimRight(string(raw[offset:offset+n]), "\x00")
	return s, offset + n, nil
}

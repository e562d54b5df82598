package ethereum

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const assetNamespace = "trahn-sim/asset/"

// AssetAddress derives a stable placeholder contract address for a symbol,
// so the same symbol maps to the same asset id across restarts.
func AssetAddress(symbol string) common.Address {
	h := crypto.Keccak256([]byte(assetNamespace + strings.ToUpper(symbol)))
	return common.BytesToAddress(h)
}

// RandomAddress returns a throwaway actor address for synthetic events.
func RandomAddress() common.Address {
	id := uuid.New()
	return common.BytesToAddress(crypto.Keccak256(id[:]))
}

// NewTxHash returns a unique transaction-shaped hash.
func NewTxHash(at time.Time) common.Hash {
	id := uuid.New()
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	return crypto.Keccak256Hash(id[:], ts[:])
}

// ShortHex renders 0x1234…abcd style labels for logs and notifications.
func ShortHex(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "..." + s[len(s)-4:]
}

// internal/blockchain/types.go
package blockchain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// AccountData is one fetched account snapshot. It is never mutated after construction;
// a refetch produces a new value and every holder works on its own Clone.
type AccountData struct {
	Pubkey    solana.PublicKey
	Data      []byte
	Slot      uint64
	Lamports  uint64
	Owner     solana.PublicKey
	FetchedAt time.Time
}

// Clone returns a deep copy so two bundles never share one data buffer.
func (a *AccountData) Clone() *AccountData {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = make([]byte, len(a.Data))
		copy(c.Data, a.Data)
	}
	return &c
}

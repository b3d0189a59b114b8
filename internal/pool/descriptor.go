// internal/pool/descriptor.go
package pool

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrNoReserveAccounts  = errors.New("descriptor has no reserve accounts")
	ErrDuplicateAccount   = errors.New("descriptor lists a reserve account twice")
	ErrReserveSetChanged  = errors.New("reserve accounts of a registered pool cannot change")
	ErrEmptyPoolID        = errors.New("descriptor has an empty pool id")
	ErrEmptyProgramID     = errors.New("descriptor has an empty program id")
	ErrIdenticalPairMints = errors.New("descriptor base and quote mints are identical")
)

// Descriptor is the static identity of a priceable pool. ReserveAccounts is fixed
// for the lifetime of the descriptor.
type Descriptor struct {
	PoolID          solana.PublicKey   `json:"pool_id"`
	ProgramID       solana.PublicKey   `json:"program_id"`
	BaseMint        solana.PublicKey   `json:"base_mint"`
	QuoteMint       solana.PublicKey   `json:"quote_mint"`
	ReserveAccounts []solana.PublicKey `json:"reserve_accounts"`
}

// Validate checks the descriptor is usable by the fetcher.
func (d Descriptor) Validate() error {
	if d.PoolID.IsZero() {
		return ErrEmptyPoolID
	}
	if d.ProgramID.IsZero() {
		return ErrEmptyProgramID
	}
	if d.BaseMint.Equals(d.QuoteMint) {
		return ErrIdenticalPairMints
	}
	if len(d.ReserveAccounts) == 0 {
		return ErrNoReserveAccounts
	}

	seen := make(map[solana.PublicKey]struct{}, len(d.ReserveAccounts))
	for _, acc := range d.ReserveAccounts {
		if _, ok := seen[acc]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, acc)
		}
		seen[acc] = struct{}{}
	}
	return nil
}

// Requires reports whether addr is one of the pool's reserve accounts.
func (d Descriptor) Requires(addr solana.PublicKey) bool {
	for _, acc := range d.ReserveAccounts {
		if acc.Equals(addr) {
			return true
		}
	}
	return false
}

// Involves reports whether mint is either side of the pair.
func (d Descriptor) Involves(mint solana.PublicKey) bool {
	return d.BaseMint.Equals(mint) || d.QuoteMint.Equals(mint)
}

// Clone returns a copy that shares no slices with d.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.ReserveAccounts = append([]solana.PublicKey(nil), d.ReserveAccounts...)
	return c
}

func sameReserveSet(a, b []solana.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

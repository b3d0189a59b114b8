// internal/tokens/positions.go
package tokens

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Positions is the set of mints backing open trading positions. The position ledger
// owns it; the fetcher only reads it to choose the short staleness threshold.
type Positions struct {
	mu    sync.RWMutex
	mints map[solana.PublicKey]struct{}
}

func NewPositions(mints ...solana.PublicKey) *Positions {
	p := &Positions{mints: make(map[solana.PublicKey]struct{}, len(mints))}
	for _, m := range mints {
		p.mints[m] = struct{}{}
	}
	return p
}

// Open marks mint as held.
func (p *Positions) Open(mint solana.PublicKey) {
	p.mu.Lock()
	p.mints[mint] = struct{}{}
	p.mu.Unlock()
}

// Close removes mint from the set.
func (p *Positions) Close(mint solana.PublicKey) {
	p.mu.Lock()
	delete(p.mints, mint)
	p.mu.Unlock()
}

// OpenMints returns a snapshot of the held mints.
func (p *Positions) OpenMints() map[solana.PublicKey]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[solana.PublicKey]struct{}, len(p.mints))
	for m := range p.mints {
		out[m] = struct{}{}
	}
	return out
}

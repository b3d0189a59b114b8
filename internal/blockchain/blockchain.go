// internal/blockchain/blockchain.go
package blockchain

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// AccountFetcher is the batched read primitive the pricing pipeline is built on.
// Results are aligned with addresses; a nil entry means the account does not exist.
type AccountFetcher interface {
	GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([]*AccountData, error)
	// MaxBatchSize is the largest address slice a single call accepts.
	MaxBatchSize() int
}

// internal/server/types.go
package server

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-pricer/internal/fetcher"
	"github.com/rovshanmuradov/solana-pricer/internal/pool"
	"github.com/rovshanmuradov/solana-pricer/internal/pricing"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// HealthResponse summarises pipeline state.
type HealthResponse struct {
	OK         bool                 `json:"ok"`
	Endpoints  []rpc.EndpointStatus `json:"endpoints"`
	Pools      int                  `json:"pools"`
	Prices     int                  `json:"prices"`
	LastCycle  fetcher.Stats        `json:"last_cycle"`
	Calculator pricing.Stats        `json:"calculator"`
}

// AccountView is one bundle account without its raw data.
type AccountView struct {
	Pubkey    solana.PublicKey `json:"pubkey"`
	Owner     solana.PublicKey `json:"owner"`
	Slot      uint64           `json:"slot"`
	Lamports  uint64           `json:"lamports"`
	DataLen   int              `json:"data_len"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// BundleView describes a bundle against its descriptor.
type BundleView struct {
	PoolID               solana.PublicKey   `json:"pool_id"`
	Complete             bool               `json:"complete"`
	Missing              []solana.PublicKey `json:"missing"`
	CalculationRequested bool               `json:"calculation_requested"`
	Slot                 uint64             `json:"slot"`
	LastUpdated          time.Time          `json:"last_updated"`
	Accounts             []AccountView      `json:"accounts"`
}

// FetchRequest asks for an immediate refetch of a pool or a set of accounts.
type FetchRequest struct {
	PoolID   string   `json:"pool_id"`
	Accounts []string `json:"accounts"`
}

func newBundleView(b *pool.Bundle, desc pool.Descriptor, known bool) BundleView {
	v := BundleView{
		PoolID:               b.PoolID,
		CalculationRequested: b.CalculationRequested,
		Slot:                 b.Slot,
		LastUpdated:          b.LastUpdated,
		Accounts:             make([]AccountView, 0, len(b.Accounts)),
	}
	if known {
		v.Complete = b.IsComplete(desc)
		v.Missing = b.Missing(desc)
	}
	for _, acc := range b.Accounts {
		v.Accounts = append(v.Accounts, AccountView{
			Pubkey:    acc.Pubkey,
			Owner:     acc.Owner,
			Slot:      acc.Slot,
			Lamports:  acc.Lamports,
			DataLen:   len(acc.Data),
			FetchedAt: acc.FetchedAt,
		})
	}
	return v
}

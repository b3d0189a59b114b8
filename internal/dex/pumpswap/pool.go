// internal/dex/pumpswap/pool.go
package pumpswap

import (
	"fmt"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

// ParsePool decodes a PumpSwap pool account.
func ParsePool(data []byte) (*Pool, error) {
	if err := binary.Require(data, PoolLayoutSize); err != nil {
		return nil, fmt.Errorf("pumpswap pool: %w: %v", model.ErrAccountTooShort, err)
	}
	if !binary.HasPrefix(data, PoolDiscriminator) {
		return nil, fmt.Errorf("pumpswap pool: %w", model.ErrDiscriminatorMismatch)
	}

	pool := &Pool{
		PoolBump:              binary.ReadUint8(data, poolBumpOffset),
		Index:                 binary.ReadUint16LittleEndian(data, poolIndexOffset),
		Creator:               binary.ReadPubKey(data, creatorOffset),
		BaseMint:              binary.ReadPubKey(data, baseMintOffset),
		QuoteMint:             binary.ReadPubKey(data, quoteMintOffset),
		LPMint:                binary.ReadPubKey(data, lpMintOffset),
		PoolBaseTokenAccount:  binary.ReadPubKey(data, baseTokenAcctOffset),
		PoolQuoteTokenAccount: binary.ReadPubKey(data, quoteTokenAcctOffset),
		LPSupply:              binary.ReadUint64LittleEndian(data, lpSupplyOffset),
	}

	// older pools end before coin_creator
	if len(data) >= coinCreatorOffset+binary.PubKeySize {
		pool.CoinCreator = binary.ReadPubKey(data, coinCreatorOffset)
	}
	return pool, nil
}

// Decode reads the pool account plus both vault balances.
func Decode(in model.Input) (*model.PoolState, error) {
	acc, err := in.Accounts.PoolAccount(ProgramID, PoolLayoutSize)
	if err != nil {
		return nil, err
	}
	pool, err := ParsePool(acc.Data)
	if err != nil {
		return nil, err
	}

	base, quote, err := calc.VaultAmounts(in.Accounts, pool.PoolBaseTokenAccount, pool.PoolQuoteTokenAccount)
	if err != nil {
		return nil, err
	}

	return &model.PoolState{
		Protocol: ProtocolPumpSwap,
		Family:   model.FamilyConstantProduct,
		Pool:     acc.Pubkey,
		Slot:     model.MaxSlot(acc, in.Accounts.Get(pool.PoolBaseTokenAccount), in.Accounts.Get(pool.PoolQuoteTokenAccount)),
		Mint0:    pool.BaseMint,
		Mint1:    pool.QuoteMint,
		Reserve0: base,
		Reserve1: quote,
	}, nil
}

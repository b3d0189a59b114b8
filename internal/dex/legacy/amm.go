// internal/dex/legacy/amm.go
package legacy

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

// ProtocolLegacy tags prices decoded from pools that keep reserves in the pool account.
const ProtocolLegacy = "legacy_amm"

const (
	baseMintOffset     = 168
	quoteMintOffset    = 200
	baseReserveOffset  = 248
	quoteReserveOffset = 256

	LayoutSize = 264
)

// State is the subset of the pool account used for pricing.
type State struct {
	BaseMint     solana.PublicKey
	QuoteMint    solana.PublicKey
	BaseReserve  uint64
	QuoteReserve uint64
}

// Parse reads mints and embedded reserves.
func Parse(data []byte) (*State, error) {
	if err := binary.Require(data, LayoutSize); err != nil {
		return nil, fmt.Errorf("legacy amm: %w: %v", model.ErrAccountTooShort, err)
	}
	return &State{
		BaseMint:     binary.ReadPubKey(data, baseMintOffset),
		QuoteMint:    binary.ReadPubKey(data, quoteMintOffset),
		BaseReserve:  binary.ReadUint64LittleEndian(data, baseReserveOffset),
		QuoteReserve: binary.ReadUint64LittleEndian(data, quoteReserveOffset),
	}, nil
}

// Decoder decodes pools owned by a configured program.
type Decoder struct {
	programID solana.PublicKey
}

// NewDecoder binds the layout to programID.
func NewDecoder(programID solana.PublicKey) *Decoder {
	return &Decoder{programID: programID}
}

// ProgramID returns the owning program.
func (d *Decoder) ProgramID() solana.PublicKey { return d.programID }

// Decode needs only the pool account.
func (d *Decoder) Decode(in model.Input) (*model.PoolState, error) {
	acc, err := in.Accounts.PoolAccount(d.programID, LayoutSize)
	if err != nil {
		return nil, err
	}
	st, err := Parse(acc.Data)
	if err != nil {
		return nil, err
	}

	return &model.PoolState{
		Protocol: ProtocolLegacy,
		Family:   model.FamilyEmbeddedReserves,
		Pool:     acc.Pubkey,
		Slot:     acc.Slot,
		Mint0:    st.BaseMint,
		Mint1:    st.QuoteMint,
		Reserve0: st.BaseReserve,
		Reserve1: st.QuoteReserve,
	}, nil
}

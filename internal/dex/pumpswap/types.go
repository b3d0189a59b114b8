// internal/dex/pumpswap/types.go
package pumpswap

import "github.com/gagliardetto/solana-go"

// ProtocolPumpSwap tags prices decoded from PumpFun AMM pools.
const ProtocolPumpSwap = "pumpswap_amm"

var (
	ProgramID = solana.MPK("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")

	// PoolDiscriminator is the discriminator for Pool accounts
	PoolDiscriminator = []byte{241, 154, 109, 4, 17, 177, 109, 188}
)

// Pool layout: discriminator, bump, index, six keys, lp supply, optional coin creator.
const (
	poolBumpOffset       = 8
	poolIndexOffset      = 9
	creatorOffset        = 11
	baseMintOffset       = 43
	quoteMintOffset      = 75
	lpMintOffset         = 107
	baseTokenAcctOffset  = 139
	quoteTokenAcctOffset = 171
	lpSupplyOffset       = 203
	coinCreatorOffset    = 211

	PoolLayoutSize = 211
)

// Pool represents a PumpSwap AMM pool account
type Pool struct {
	PoolBump              uint8            // PDA bump
	Index                 uint16           // Pool index
	Creator               solana.PublicKey // Creator of the pool
	BaseMint              solana.PublicKey // Base token mint
	QuoteMint             solana.PublicKey // Quote token mint
	LPMint                solana.PublicKey // LP token mint
	PoolBaseTokenAccount  solana.PublicKey // Base token vault
	PoolQuoteTokenAccount solana.PublicKey // Quote token vault
	LPSupply              uint64           // LP token supply
	CoinCreator           solana.PublicKey // zero for pools created before the field existed
}

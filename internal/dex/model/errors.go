// internal/dex/model/errors.go
package model

import "errors"

// Decode misses. These are expected conditions for chain data, never faults.
var (
	ErrAccountNotFound       = errors.New("pool account not found")
	ErrAccountTooShort       = errors.New("account data shorter than layout")
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
	ErrNoQuoteMint           = errors.New("no recognized quote mint in pool")
	ErrMintMismatch          = errors.New("pool mints do not match requested pair")
	ErrDecimalsUnknown       = errors.New("token decimals unknown")
	ErrReservesMissing       = errors.New("reserve account missing")
	ErrNotTokenAccount       = errors.New("reserve account not owned by a token program")
	ErrInvalidPrice          = errors.New("computed price is not positive and finite")
	ErrUnsupportedProgram    = errors.New("no decoder for program")
)

// Reason returns a short metric label for a decode miss.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAccountTooShort):
		return "too_short"
	case errors.Is(err, ErrDiscriminatorMismatch):
		return "discriminator"
	case errors.Is(err, ErrNoQuoteMint):
		return "no_quote"
	case errors.Is(err, ErrMintMismatch):
		return "mint_mismatch"
	case errors.Is(err, ErrDecimalsUnknown):
		return "decimals_unknown"
	case errors.Is(err, ErrReservesMissing):
		return "reserves_missing"
	case errors.Is(err, ErrNotTokenAccount):
		return "not_token_account"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrUnsupportedProgram):
		return "unsupported"
	default:
		return "other"
	}
}

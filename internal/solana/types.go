package solana

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var lamportsPerSOL = decimal.NewFromInt(LamportsPerSOL)

// SOLToLamports converts a SOL amount to whole lamports, truncating dust.
func SOLToLamports(sol decimal.Decimal) uint64 {
	lamports := sol.Mul(lamportsPerSOL).Truncate(0)
	if lamports.IsNegative() {
		return 0
	}
	return uint64(lamports.IntPart())
}

// LamportsToSOL converts lamports to a SOL amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(lamportsPerSOL)
}

// TokenAccount describes an SPL token account holding a specific mint.
type TokenAccount struct {
	Address Pubkey          `json:"address"`
	Mint    Pubkey          `json:"mint"`
	Amount  decimal.Decimal `json:"amount"` // raw base units, not decimal-adjusted
}

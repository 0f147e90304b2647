package trade

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	solanax "github.com/kolwatch/kolwatch/internal/solana"
)

// Call records one executor invocation.
type Call struct {
	Op           string // "buy" or "sell"
	Mint         string
	Amount       decimal.Decimal
	Slippage     decimal.Decimal
	PriorityFee  uint64
	TokenAccount string
}

// StubExecutor records calls and returns scripted results. Used in tests
// and stub mode.
type StubExecutor struct {
	mu       sync.Mutex
	calls    []Call
	tokens   decimal.Decimal
	buyErr   error
	sellErr  error
	sigCount int
}

// NewStubExecutor creates a stub whose buys acquire the given token amount.
func NewStubExecutor(tokensAcquired decimal.Decimal) *StubExecutor {
	return &StubExecutor{tokens: tokensAcquired}
}

// FailBuy makes every Buy return err.
func (s *StubExecutor) FailBuy(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyErr = err
}

// FailSell makes every Sell return err.
func (s *StubExecutor) FailSell(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellErr = err
}

// Calls returns every recorded invocation in order.
func (s *StubExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Buy implements Executor.
func (s *StubExecutor) Buy(_ context.Context, mint string, amountSOL, slippage decimal.Decimal, priorityFee uint64) (*TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{
		Op: "buy", Mint: mint, Amount: amountSOL, Slippage: slippage, PriorityFee: priorityFee,
	})
	if s.buyErr != nil {
		return nil, s.buyErr
	}

	s.sigCount++
	return &TxResult{
		Signature:      solanax.Signature(fmt.Sprintf("stub-buy-%d", s.sigCount)),
		LamportsSpent:  solanax.SOLToLamports(amountSOL.Mul(decimal.NewFromInt(1).Sub(slippage))),
		TokensAcquired: s.tokens,
		TokenAccount:   "stub-ata-" + mint,
	}, nil
}

// Sell implements Executor.
func (s *StubExecutor) Sell(_ context.Context, mint, tokenAccount string, amount, slippage decimal.Decimal, priorityFee uint64) (*TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{
		Op: "sell", Mint: mint, Amount: amount, Slippage: slippage,
		PriorityFee: priorityFee, TokenAccount: tokenAccount,
	})
	if s.sellErr != nil {
		return nil, s.sellErr
	}

	s.sigCount++
	return &TxResult{
		Signature:    solanax.Signature(fmt.Sprintf("stub-sell-%d", s.sigCount)),
		TokenAccount: tokenAccount,
	}, nil
}

// FixedFees returns a constant priority fee estimate.
type FixedFees uint64

// Estimate implements FeeSource.
func (f FixedFees) Estimate() uint64 { return uint64(f) }

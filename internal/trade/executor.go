package trade

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	solanax "github.com/kolwatch/kolwatch/internal/solana"
)

// ---------------------------------------------------------------------------
// Trade execution — swap build, sign, submit, confirm
// ---------------------------------------------------------------------------

const solMint = "So11111111111111111111111111111111111111112"

// TxErrorKind classifies an execution failure.
type TxErrorKind string

const (
	SimulationFailed TxErrorKind = "simulation_failed"
	Timeout          TxErrorKind = "timeout"
	RpcRejected      TxErrorKind = "rpc_rejected"
)

// TxError is a typed execution failure. A TxError after submission does not
// mean the transaction did not land; callers must confirm before retrying.
type TxError struct {
	Kind      TxErrorKind
	Signature solanax.Signature
	cause     error
}

func (e *TxError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("trade: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("trade: %s", e.Kind)
}

func (e *TxError) Unwrap() error { return e.cause }

// AsTxError extracts a TxError from err, or nil.
func AsTxError(err error) *TxError {
	var te *TxError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// TxResult reports a landed buy or sell. TokensAcquired is in the mint's raw
// base units, the same space Sell consumes; mixing it with decimal-adjusted
// UI amounts turns a position into dust on the way back out.
type TxResult struct {
	Signature      solanax.Signature
	LamportsSpent  uint64
	TokensAcquired decimal.Decimal
	TokenAccount   string
}

// Executor submits buys and sells for one wallet. Sell's amount is in the
// mint's raw base units, matching TxResult.TokensAcquired from the buy.
type Executor interface {
	Buy(ctx context.Context, mint string, amountSOL, slippage decimal.Decimal, priorityFee uint64) (*TxResult, error)
	Sell(ctx context.Context, mint, tokenAccount string, amount, slippage decimal.Decimal, priorityFee uint64) (*TxResult, error)
}

// ExecutorConfig configures the swap executor.
type ExecutorConfig struct {
	SwapBaseURL         string
	Timeout             time.Duration
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
	DryRun              bool
}

// DefaultExecutorConfig returns production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		SwapBaseURL:         "https://quote-api.jup.ag/v6",
		Timeout:             15 * time.Second,
		ConfirmPollInterval: 2 * time.Second,
		ConfirmTimeout:      60 * time.Second,
	}
}

// SwapExecutor builds swaps through an aggregator, signs them locally, and
// submits through the RPC client. Every call is a single non-idempotent
// submission; it never retries on its own.
type SwapExecutor struct {
	cfg    ExecutorConfig
	rpc    solanax.RPCClient
	wallet solanago.PrivateKey
	client *http.Client
}

// NewSwapExecutor creates an executor for the wallet behind the given
// base58-encoded private key.
func NewSwapExecutor(cfg ExecutorConfig, rpc solanax.RPCClient, walletKey string) (*SwapExecutor, error) {
	def := DefaultExecutorConfig()
	if cfg.SwapBaseURL == "" {
		cfg.SwapBaseURL = def.SwapBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = def.ConfirmPollInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}

	var wallet solanago.PrivateKey
	if walletKey == "" && cfg.DryRun {
		// Dry runs never sign, so a throwaway key is enough.
		wallet = solanago.NewWallet().PrivateKey
	} else {
		var err error
		wallet, err = solanago.PrivateKeyFromBase58(walletKey)
		if err != nil {
			return nil, fmt.Errorf("trade: parse wallet key: %w", err)
		}
	}

	return &SwapExecutor{
		cfg:    cfg,
		rpc:    rpc,
		wallet: wallet,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Wallet returns the executor's public key in base58.
func (e *SwapExecutor) Wallet() string {
	return e.wallet.PublicKey().String()
}

// Buy swaps SOL into mint. The effective spend is amount reduced by the
// slippage fraction; the buy side subtracts while the sell side adds, and
// that asymmetry is deliberate policy.
func (e *SwapExecutor) Buy(ctx context.Context, mint string, amountSOL, slippage decimal.Decimal, priorityFee uint64) (*TxResult, error) {
	effective := amountSOL.Mul(decimal.NewFromInt(1).Sub(slippage))
	lamports := solanax.SOLToLamports(effective)
	if lamports == 0 {
		return nil, &TxError{Kind: SimulationFailed, cause: fmt.Errorf("non-positive spend %s", effective)}
	}

	log.Info().Str("mint", mint).
		Str("nominal_sol", amountSOL.String()).
		Str("effective_sol", effective.String()).
		Uint64("priority_fee", priorityFee).
		Bool("dry_run", e.cfg.DryRun).
		Msg("trade: buy")

	if e.cfg.DryRun {
		return &TxResult{
			Signature:      solanax.Signature("dry-" + uuid.NewString()),
			LamportsSpent:  lamports,
			TokensAcquired: effective,
		}, nil
	}

	quote, err := e.quote(ctx, solMint, mint, decimal.NewFromInt(int64(lamports)), slippage)
	if err != nil {
		return nil, &TxError{Kind: SimulationFailed, cause: err}
	}

	sig, err := e.submit(ctx, quote, priorityFee)
	if err != nil {
		return nil, err
	}

	res := &TxResult{
		Signature:      sig,
		LamportsSpent:  lamports,
		TokensAcquired: quote.outAmount,
	}

	// The quote's outAmount and the account readback are both raw base
	// units, so the readback can override the quote without a conversion.
	if acct, err := e.rpc.GetAssociatedTokenAccount(ctx, solanax.Pubkey(e.Wallet()), solanax.Pubkey(mint)); err == nil && acct != nil {
		res.TokenAccount = string(acct.Address)
		res.TokensAcquired = acct.Amount
	}

	log.Info().Str("mint", mint).Str("signature", string(sig)).
		Str("tokens", res.TokensAcquired.String()).Msg("trade: buy confirmed")
	return res, nil
}

// Sell swaps tokens back into SOL. The nominal amount is increased by the
// slippage fraction before the swap is built (see Buy for the asymmetry).
func (e *SwapExecutor) Sell(ctx context.Context, mint, tokenAccount string, amount, slippage decimal.Decimal, priorityFee uint64) (*TxResult, error) {
	adjusted := amount.Mul(decimal.NewFromInt(1).Add(slippage)).Truncate(0)
	if !adjusted.IsPositive() {
		return nil, &TxError{Kind: SimulationFailed, cause: fmt.Errorf("non-positive sell amount %s", adjusted)}
	}

	log.Info().Str("mint", mint).
		Str("nominal", amount.String()).
		Str("adjusted", adjusted.String()).
		Uint64("priority_fee", priorityFee).
		Bool("dry_run", e.cfg.DryRun).
		Msg("trade: sell")

	if e.cfg.DryRun {
		return &TxResult{
			Signature:    solanax.Signature("dry-" + uuid.NewString()),
			TokenAccount: tokenAccount,
		}, nil
	}

	quote, err := e.quote(ctx, mint, solMint, adjusted, slippage)
	if err != nil {
		return nil, &TxError{Kind: SimulationFailed, cause: err}
	}

	sig, err := e.submit(ctx, quote, priorityFee)
	if err != nil {
		return nil, err
	}

	log.Info().Str("mint", mint).Str("signature", string(sig)).Msg("trade: sell confirmed")
	return &TxResult{Signature: sig, TokenAccount: tokenAccount}, nil
}

type swapQuote struct {
	raw       json.RawMessage
	outAmount decimal.Decimal
}

func (e *SwapExecutor) quote(ctx context.Context, inputMint, outputMint string, amount, slippage decimal.Decimal) (*swapQuote, error) {
	slippageBps := slippage.Mul(decimal.NewFromInt(10_000)).IntPart()

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", amount.String())
	q.Set("slippageBps", fmt.Sprintf("%d", slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.SwapBaseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	var fields struct {
		OutAmount string `json:"outAmount"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	out, err := decimal.NewFromString(fields.OutAmount)
	if err != nil || !out.IsPositive() {
		return nil, fmt.Errorf("no route: outAmount %q", fields.OutAmount)
	}

	return &swapQuote{raw: raw, outAmount: out}, nil
}

// submit fetches the serialized swap transaction, signs it, sends it, and
// waits for confirmation.
func (e *SwapExecutor) submit(ctx context.Context, quote *swapQuote, priorityFee uint64) (solanax.Signature, error) {
	body, err := json.Marshal(map[string]any{
		"quoteResponse":             quote.raw,
		"userPublicKey":             e.Wallet(),
		"wrapAndUnwrapSol":          true,
		"prioritizationFeeLamports": priorityFee,
	})
	if err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.SwapBaseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &TxError{Kind: SimulationFailed, cause: fmt.Errorf("swap status %d", resp.StatusCode)}
	}

	var payload struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}

	txBytes, err := base64.StdEncoding.DecodeString(payload.SwapTransaction)
	if err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}

	tx, err := solanago.TransactionFromBytes(txBytes)
	if err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}

	if _, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(e.wallet.PublicKey()) {
			return &e.wallet
		}
		return nil
	}); err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}

	signed, err := tx.MarshalBinary()
	if err != nil {
		return "", &TxError{Kind: SimulationFailed, cause: err}
	}

	sig, err := e.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(signed))
	if err != nil {
		return "", &TxError{Kind: RpcRejected, cause: err}
	}

	if err := e.confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (e *SwapExecutor) confirm(ctx context.Context, sig solanax.Signature) error {
	deadline := time.NewTimer(e.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := e.rpc.GetTransactionStatus(ctx, sig)
		if err == nil {
			switch status {
			case "confirmed", "finalized":
				return nil
			case "failed":
				return &TxError{Kind: RpcRejected, Signature: sig, cause: errors.New("transaction failed on-chain")}
			}
		}

		select {
		case <-ctx.Done():
			return &TxError{Kind: Timeout, Signature: sig, cause: ctx.Err()}
		case <-deadline.C:
			return &TxError{Kind: Timeout, Signature: sig, cause: errors.New("confirmation deadline exceeded")}
		case <-ticker.C:
		}
	}
}

package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions the pipeline needs.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetLatestBlockhash returns a recent blockhash for transaction assembly.
	GetLatestBlockhash(ctx context.Context) (string, error)

	// SendTransaction submits a signed, base64-encoded transaction.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetTransactionStatus checks confirmation of a submitted transaction.
	GetTransactionStatus(ctx context.Context, sig Signature) (string, error) // pending|confirmed|finalized|failed

	// GetAssociatedTokenAccount returns the wallet's token account for a mint.
	GetAssociatedTokenAccount(ctx context.Context, wallet, mint Pubkey) (*TokenAccount, error)

	// GetTokenAccountBalance returns the raw base-unit amount held by a
	// token account.
	GetTokenAccountBalance(ctx context.Context, account Pubkey) (decimal.Decimal, error)

	// GetRecentPriorityFees returns recent per-slot prioritization fees in
	// micro-lamports, for fee estimation.
	GetRecentPriorityFees(ctx context.Context) ([]uint64, error)

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string // e.g. https://api.mainnet-beta.solana.com
	Timeout      time.Duration
	MaxRetries   int
	RateLimitRPS float64 // requests per second limit
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a mock RPC client for testing.
type StubRPCClient struct {
	mu            sync.RWMutex
	blockhash     string
	tokenAccounts map[Pubkey]*TokenAccount // wallet+mint key -> account
	balances      map[Pubkey]decimal.Decimal
	priorityFees  []uint64
	txStatus      string
	sentTxs       []string
	failNext      bool
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		blockhash:     "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
		tokenAccounts: make(map[Pubkey]*TokenAccount),
		balances:      make(map[Pubkey]decimal.Decimal),
		txStatus:      "confirmed",
	}
}

func stubAccountKey(wallet, mint Pubkey) Pubkey {
	return wallet + "/" + mint
}

// AddTokenAccount registers a token account for a wallet+mint pair.
func (s *StubRPCClient) AddTokenAccount(wallet, mint Pubkey, account TokenAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenAccounts[stubAccountKey(wallet, mint)] = &account
	s.balances[account.Address] = account.Amount
}

// SetBalance sets the balance returned for a token account.
func (s *StubRPCClient) SetBalance(account Pubkey, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = amount
}

// SetPriorityFees sets the recent fee samples the stub returns.
func (s *StubRPCClient) SetPriorityFees(fees []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorityFees = fees
}

// SetTxStatus sets the status returned for any signature.
func (s *StubRPCClient) SetTxStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txStatus = status
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SentTransactions returns the base64 payloads submitted so far.
func (s *StubRPCClient) SentTransactions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := make([]string, len(s.sentTxs))
	copy(txs, s.sentTxs)
	return txs
}

func (s *StubRPCClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetLatestBlockhash(_ context.Context) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockhash, nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentTxs = append(s.sentTxs, txBase64)
	return Signature(fmt.Sprintf("stub-sig-%d", len(s.sentTxs))), nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, _ Signature) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txStatus, nil
}

func (s *StubRPCClient) GetAssociatedTokenAccount(_ context.Context, wallet, mint Pubkey) (*TokenAccount, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.tokenAccounts[stubAccountKey(wallet, mint)]; ok {
		copied := *acct
		return &copied, nil
	}
	return nil, fmt.Errorf("stub: no token account for %s holding %s", wallet, mint)
}

func (s *StubRPCClient) GetTokenAccountBalance(_ context.Context, account Pubkey) (decimal.Decimal, error) {
	if s.shouldFail() {
		return decimal.Zero, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if amount, ok := s.balances[account]; ok {
		return amount, nil
	}
	return decimal.Zero, fmt.Errorf("stub: unknown token account %s", account)
}

func (s *StubRPCClient) GetRecentPriorityFees(_ context.Context) ([]uint64, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fees := make([]uint64, len(s.priorityFees))
	copy(fees, s.priorityFees)
	return fees, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}

package trade

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	solanax "github.com/kolwatch/kolwatch/internal/solana"
)

const testMint = "MintA111111111111111111111111111111111111111"

// unsignedTx builds a minimal serialized transaction payable by wallet, the
// shape a swap aggregator hands back for local signing.
func unsignedTx(t *testing.T, wallet *solanago.Wallet) string {
	t.Helper()

	ix := system.NewTransferInstruction(1, wallet.PublicKey(), wallet.PublicKey()).Build()
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{ix},
		solanago.Hash{},
		solanago.TransactionPayer(wallet.PublicKey()),
	)
	require.NoError(t, err)

	raw, err := tx.Message.MarshalBinary()
	require.NoError(t, err)

	// Count byte for the empty signature list, then the message.
	return base64.StdEncoding.EncodeToString(append([]byte{0}, raw...))
}

type swapServer struct {
	*httptest.Server
	quoteAmounts []string
	swapFees     []uint64
}

func newSwapServer(t *testing.T, wallet *solanago.Wallet, outAmount string) *swapServer {
	t.Helper()
	s := &swapServer{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			s.quoteAmounts = append(s.quoteAmounts, r.URL.Query().Get("amount"))
			w.Write([]byte(`{"outAmount":"` + outAmount + `"}`))
		case "/swap":
			var req struct {
				PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			s.swapFees = append(s.swapFees, req.PrioritizationFeeLamports)

			resp, _ := json.Marshal(map[string]string{"swapTransaction": unsignedTx(t, wallet)})
			w.Write(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestExecutor(t *testing.T, server *swapServer, wallet *solanago.Wallet, rpc solanax.RPCClient) *SwapExecutor {
	t.Helper()
	exec, err := NewSwapExecutor(ExecutorConfig{
		SwapBaseURL:         server.URL,
		ConfirmPollInterval: 5 * time.Millisecond,
		ConfirmTimeout:      100 * time.Millisecond,
	}, rpc, wallet.PrivateKey.String())
	require.NoError(t, err)
	return exec
}

func TestBuy_SlippageReducesSpend(t *testing.T) {
	wallet := solanago.NewWallet()
	server := newSwapServer(t, wallet, "1000000")
	rpc := solanax.NewStubRPCClient()
	exec := newTestExecutor(t, server, wallet, rpc)

	res, err := exec.Buy(context.Background(),
		testMint,
		decimal.RequireFromString("0.03"),
		decimal.RequireFromString("0.20"),
		7500,
	)
	require.NoError(t, err)

	// 0.03 * (1 - 0.20) = 0.024 SOL.
	assert.Equal(t, uint64(24_000_000), res.LamportsSpent)
	require.Len(t, server.quoteAmounts, 1)
	assert.Equal(t, "24000000", server.quoteAmounts[0])
	require.Len(t, server.swapFees, 1)
	assert.Equal(t, uint64(7500), server.swapFees[0])

	assert.Len(t, rpc.SentTransactions(), 1)
	assert.NotEmpty(t, res.Signature)
	assert.True(t, res.TokensAcquired.Equal(decimal.NewFromInt(1_000_000)))
}

func TestBuy_AccountReadbackKeepsRawUnits(t *testing.T) {
	wallet := solanago.NewWallet()
	server := newSwapServer(t, wallet, "8400000")
	rpc := solanax.NewStubRPCClient()
	// 8.5 tokens at 6 decimals, as the chain reports them.
	rpc.AddTokenAccount(solanax.Pubkey(wallet.PublicKey().String()), solanax.Pubkey(testMint), solanax.TokenAccount{
		Address: "ata-addr",
		Mint:    solanax.Pubkey(testMint),
		Amount:  decimal.NewFromInt(8_500_000),
	})
	exec := newTestExecutor(t, server, wallet, rpc)

	res, err := exec.Buy(context.Background(), testMint,
		decimal.RequireFromString("0.03"), decimal.RequireFromString("0.20"), 5000)
	require.NoError(t, err)

	assert.Equal(t, "ata-addr", res.TokenAccount)
	assert.True(t, res.TokensAcquired.Equal(decimal.NewFromInt(8_500_000)),
		"readback stays in base units, got %s", res.TokensAcquired)

	// Selling 85% of the position quotes base units, not a dust-sized
	// decimal-adjusted amount: 8500000 * 0.85 * 1.15 = 8308750.
	sellAmount := res.TokensAcquired.Mul(decimal.RequireFromString("0.85"))
	_, err = exec.Sell(context.Background(), testMint, res.TokenAccount,
		sellAmount, decimal.RequireFromString("0.15"), 5000)
	require.NoError(t, err)

	require.Len(t, server.quoteAmounts, 2)
	assert.Equal(t, "8308750", server.quoteAmounts[1])
}

func TestSell_SlippageIncreasesAmount(t *testing.T) {
	wallet := solanago.NewWallet()
	server := newSwapServer(t, wallet, "5000")
	rpc := solanax.NewStubRPCClient()
	exec := newTestExecutor(t, server, wallet, rpc)

	_, err := exec.Sell(context.Background(),
		testMint, "ata",
		decimal.NewFromInt(100),
		decimal.RequireFromString("0.15"),
		5000,
	)
	require.NoError(t, err)

	// 100 * (1 + 0.15) = 115.
	require.Len(t, server.quoteAmounts, 1)
	assert.Equal(t, "115", server.quoteAmounts[0])
}

func TestBuy_RpcRejected(t *testing.T) {
	wallet := solanago.NewWallet()
	server := newSwapServer(t, wallet, "1000000")
	rpc := solanax.NewStubRPCClient()
	rpc.SetFailNext()
	exec := newTestExecutor(t, server, wallet, rpc)

	_, err := exec.Buy(context.Background(), testMint,
		decimal.RequireFromString("0.03"), decimal.RequireFromString("0.20"), 5000)
	require.Error(t, err)

	te := AsTxError(err)
	require.NotNil(t, te)
	assert.Equal(t, RpcRejected, te.Kind)
}

func TestBuy_ConfirmTimeout(t *testing.T) {
	wallet := solanago.NewWallet()
	server := newSwapServer(t, wallet, "1000000")
	rpc := solanax.NewStubRPCClient()
	rpc.SetTxStatus("pending")
	exec := newTestExecutor(t, server, wallet, rpc)

	_, err := exec.Buy(context.Background(), testMint,
		decimal.RequireFromString("0.03"), decimal.RequireFromString("0.20"), 5000)
	require.Error(t, err)

	te := AsTxError(err)
	require.NotNil(t, te)
	assert.Equal(t, Timeout, te.Kind)
	assert.NotEmpty(t, te.Signature, "timeout after submission carries the signature")
}

func TestBuy_NoRoute(t *testing.T) {
	wallet := solanago.NewWallet()
	rpc := solanax.NewStubRPCClient()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"outAmount":"0"}`))
	}))
	defer server.Close()

	exec, err := NewSwapExecutor(ExecutorConfig{SwapBaseURL: server.URL}, rpc, wallet.PrivateKey.String())
	require.NoError(t, err)

	_, err = exec.Buy(context.Background(), testMint,
		decimal.RequireFromString("0.03"), decimal.RequireFromString("0.20"), 5000)
	require.Error(t, err)

	te := AsTxError(err)
	require.NotNil(t, te)
	assert.Equal(t, SimulationFailed, te.Kind)
	assert.Empty(t, rpc.SentTransactions(), "nothing submitted without a route")
}

func TestDryRunSkipsSubmission(t *testing.T) {
	wallet := solanago.NewWallet()
	rpc := solanax.NewStubRPCClient()

	exec, err := NewSwapExecutor(ExecutorConfig{DryRun: true}, rpc, wallet.PrivateKey.String())
	require.NoError(t, err)

	res, err := exec.Buy(context.Background(), testMint,
		decimal.RequireFromString("0.03"), decimal.RequireFromString("0.20"), 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(24_000_000), res.LamportsSpent)
	assert.Empty(t, rpc.SentTransactions())
}

func TestDryRunWithoutWalletKey(t *testing.T) {
	rpc := solanax.NewStubRPCClient()

	exec, err := NewSwapExecutor(ExecutorConfig{DryRun: true}, rpc, "")
	require.NoError(t, err)
	assert.NotEmpty(t, exec.Wallet())

	_, err = exec.Buy(context.Background(), testMint,
		decimal.RequireFromString("0.03"), decimal.RequireFromString("0.20"), 5000)
	require.NoError(t, err)

	// A live executor still refuses to start without a key.
	_, err = NewSwapExecutor(ExecutorConfig{}, rpc, "")
	require.Error(t, err)
}

package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVaultAddress = common.HexToAddress("0x3dB4D3DE3A936A4D332c05eA62014C5Cfe0270C8")

type fakeBackend struct {
	sendErr error
	callOut []byte

	mu       sync.Mutex
	sent     []*types.Transaction
	pending  int // receipts return NotFound this many times
	status   uint64
	lookups  int
	lastCall ethereum.CallMsg
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 3, nil }

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1_000_000), nil }

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookups++
	if b.pending > 0 {
		b.pending--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: b.status, TxHash: hash}, nil
}

func (b *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCall = call
	return b.callOut, nil
}

func newTestVault(b *fakeBackend) *DepositVault {
	v := NewDepositVault(b, testVaultAddress, testChain.BigID(), 0)
	v.SetPollInterval(time.Millisecond)
	return v
}

func TestDepositBuildsVaultCall(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewKeySigner(key)
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	v := newTestVault(b)

	wei := big.NewInt(2_500_000_000_000_000)
	hash, err := v.Deposit(context.Background(), signer, wei)
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, testVaultAddress, *tx.To())
	assert.Equal(t, wei, tx.Value())
	assert.Equal(t, uint64(100000), tx.Gas())
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, vaultABI.Methods["deposit"].ID, tx.Data())

	sender, err := types.Sender(types.LatestSignerForChainID(testChain.BigID()), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), sender)
}

func TestDepositThroughConnectedWallet(t *testing.T) {
	w := newTestWallet(t, testChain.ID, 1)
	m := NewSessionManager(NewInjected(w), testChain)
	addr, err := m.Connect(context.Background(), "metamask", "")
	require.NoError(t, err)

	signer, err := m.Signer()
	require.NoError(t, err)
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	_, err = newTestVault(b).Deposit(context.Background(), signer, big.NewInt(10))
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(testChain.BigID()), b.sent[0])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(addr), sender)
}

func TestDepositErrors(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := NewKeySigner(key)

	b := &fakeBackend{sendErr: errors.New("insufficient funds for gas * price + value")}
	_, err := newTestVault(b).Deposit(context.Background(), signer, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = newTestVault(&fakeBackend{}).Deposit(context.Background(), signer, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWaitMined(t *testing.T) {
	b := &fakeBackend{pending: 3, status: types.ReceiptStatusSuccessful}
	v := newTestVault(b)
	hash := common.HexToHash("0xabc")

	receipt, err := v.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, hash, receipt.TxHash)
	assert.Equal(t, 4, b.lookups)

	b.status = types.ReceiptStatusFailed
	_, err = v.WaitMined(context.Background(), hash)
	assert.ErrorIs(t, err, ErrTransactionReverted)

	b.pending = 1 << 30
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = v.WaitMined(ctx, hash)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVaultBalances(t *testing.T) {
	out, err := vaultABI.Methods["getBalance"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	b := &fakeBackend{callOut: out}
	v := newTestVault(b)

	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bal, err := v.Balance(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())
	assert.Equal(t, testVaultAddress, *b.lastCall.To)
	assert.Equal(t, vaultABI.Methods["getBalance"].ID, b.lastCall.Data[:4])

	total, err := v.ContractBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), total.Int64())
}

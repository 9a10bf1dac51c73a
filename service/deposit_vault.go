package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// DepositVaultABI is the interface of the on-chain deposit vault.
const DepositVaultABI = `[
{"inputs":[],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getBalance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"getContractBalance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Deposited","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Withdrawn","type":"event"}
]`

var vaultABI = mustParseABI(DepositVaultABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ChainBackend is the subset of *ethclient.Client the vault needs.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DepositVault sends deposits to the vault contract and waits for them.
type DepositVault struct {
	backend  ChainBackend
	address  common.Address
	chainID  *big.Int
	gasLimit uint64
	poll     time.Duration
	logger   log.Logger
}

func NewDepositVault(backend ChainBackend, address common.Address, chainID *big.Int, gasLimit uint64) *DepositVault {
	if gasLimit == 0 {
		gasLimit = 100000
	}
	return &DepositVault{
		backend:  backend,
		address:  address,
		chainID:  chainID,
		gasLimit: gasLimit,
		poll:     2 * time.Second,
		logger:   log.New("component", "vault", "address", address),
	}
}

// SetPollInterval changes how often WaitMined asks for the receipt.
func (v *DepositVault) SetPollInterval(d time.Duration) {
	if d > 0 {
		v.poll = d
	}
}

func (v *DepositVault) Address() common.Address { return v.address }

// Deposit sends wei to the vault's deposit() signed by signer and returns the
// transaction hash once broadcast.
func (v *DepositVault) Deposit(ctx context.Context, signer Signer, wei *big.Int) (common.Hash, error) {
	if wei == nil || wei.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	from := signer.Address()
	data, err := vaultABI.Pack("deposit")
	if err != nil {
		return common.Hash{}, err
	}

	// === Step 1: nonce 与 gas price ===
	nonce, err := v.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := v.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	// === Step 2: 构造交易 ===
	to := v.address
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int).Set(wei),
		Gas:      v.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	// === Step 3: 签名 ===
	signed, err := signer.SignTx(ctx, tx, v.chainID)
	if err != nil {
		return common.Hash{}, classifyChainError(err)
	}

	// === Step 4: 广播交易 ===
	if err := v.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classifyChainError(err)
	}
	v.logger.Info("Deposit sent", "from", from, "wei", wei, "tx", signed.Hash())
	return signed.Hash(), nil
}

// WaitMined blocks until the transaction is mined. There is no timeout other
// than ctx. A reverted transaction returns ErrTransactionReverted.
func (v *DepositVault) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(v.poll)
	defer ticker.Stop()
	for {
		receipt, err := v.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			v.logger.Debug("Receipt lookup failed", "tx", hash, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Balance returns the vault balance credited to user.
func (v *DepositVault) Balance(ctx context.Context, user common.Address) (*big.Int, error) {
	return v.callUint(ctx, "getBalance", user)
}

// ContractBalance returns the total held by the vault.
func (v *DepositVault) ContractBalance(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "getContractBalance")
}

func (v *DepositVault) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := vaultABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	to := v.address
	out, err := v.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	values, err := vaultABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: unexpected %d return values", method, len(values))
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, values[0])
	}
	return n, nil
}

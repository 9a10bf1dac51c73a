package service

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs deposit transactions on behalf of one account.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// TransactionArgs is the eth_signTransaction parameter object.
type TransactionArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	Data     hexutil.Bytes   `json:"data"`
	ChainID  *hexutil.Big    `json:"chainId,omitempty"`
}

func newTransactionArgs(from common.Address, tx *types.Transaction, chainID *big.Int) TransactionArgs {
	args := TransactionArgs{
		From:     from,
		To:       tx.To(),
		Gas:      hexutil.Uint64(tx.Gas()),
		GasPrice: (*hexutil.Big)(tx.GasPrice()),
		Value:    (*hexutil.Big)(tx.Value()),
		Nonce:    hexutil.Uint64(tx.Nonce()),
		Data:     tx.Data(),
	}
	if chainID != nil {
		args.ChainID = (*hexutil.Big)(chainID)
	}
	return args
}

func (a TransactionArgs) toTransaction() *types.Transaction {
	legacy := &types.LegacyTx{
		Nonce:    uint64(a.Nonce),
		To:       a.To,
		Gas:      uint64(a.Gas),
		GasPrice: new(big.Int),
		Value:    new(big.Int),
		Data:     a.Data,
	}
	if a.GasPrice != nil {
		legacy.GasPrice = a.GasPrice.ToInt()
	}
	if a.Value != nil {
		legacy.Value = a.Value.ToInt()
	}
	return types.NewTx(legacy)
}

// SignerService 签名服务
// - 如果配置了 remoteURL，则请求远程服务
// - 否则用 localPrivKey 本地签名
type SignerService struct {
	remoteURL    string
	address      common.Address
	localPrivKey *ecdsa.PrivateKey
	httpClient   *http.Client
}

// NewSignerService 创建签名服务. remoteAddress 是远程签名服务托管的地址。
func NewSignerService(remoteURL, remoteAddress, localPrivHex string) (*SignerService, error) {
	if remoteURL != "" {
		if !common.IsHexAddress(remoteAddress) {
			return nil, fmt.Errorf("remote signer needs a valid address, got %q", remoteAddress)
		}
		return &SignerService{
			remoteURL:  strings.TrimRight(remoteURL, "/"),
			address:    common.HexToAddress(remoteAddress),
			httpClient: &http.Client{Timeout: 15 * time.Second},
		}, nil
	}
	if localPrivHex == "" {
		return nil, errors.New("no signer configured")
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(localPrivHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySigner(priv), nil
}

// NewKeySigner signs locally with key.
func NewKeySigner(key *ecdsa.PrivateKey) *SignerService {
	return &SignerService{
		address:      crypto.PubkeyToAddress(key.PublicKey),
		localPrivKey: key,
	}
}

func (s *SignerService) Address() common.Address { return s.address }

// SignTx 对未签名交易进行签名
func (s *SignerService) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.remoteURL != "" {
		return s.signRemote(ctx, tx, chainID)
	}
	if s.localPrivKey == nil {
		return nil, errors.New("no signer configured")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.localPrivKey)
}

// 远程签名服务: POST {remoteURL}/sign {"unsigned_tx": <args>} -> {"signed_tx": "0x..."}
func (s *SignerService) signRemote(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	body, err := json.Marshal(map[string]interface{}{
		"unsigned_tx": newTransactionArgs(s.address, tx, chainID),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.remoteURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, &ProviderError{Code: CodeUserRejected, Message: "remote signer refused the transaction"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer returned %d", resp.StatusCode)
	}
	var respObj struct {
		SignedTx hexutil.Bytes `json:"signed_tx"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respObj); err != nil {
		return nil, fmt.Errorf("decode signer response: %w", err)
	}
	return decodeSignedTx(respObj.SignedTx, s.address, chainID)
}

// decodeSignedTx parses a raw signed transaction and checks it was signed by from.
func decodeSignedTx(raw []byte, from common.Address, chainID *big.Int) (*types.Transaction, error) {
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal signed tx: %w", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	if sender != from {
		return nil, fmt.Errorf("transaction signed by %s, expected %s", sender.Hex(), from.Hex())
	}
	return signed, nil
}

// ProviderSigner signs through the connected wallet with eth_signTransaction.
type ProviderSigner struct {
	provider EthereumProvider
	address  common.Address
}

func NewProviderSigner(provider EthereumProvider, address common.Address) *ProviderSigner {
	return &ProviderSigner{provider: provider, address: address}
}

func (s *ProviderSigner) Address() common.Address { return s.address }

func (s *ProviderSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	var raw json.RawMessage
	if err := s.provider.Request(ctx, &raw, "eth_signTransaction", newTransactionArgs(s.address, tx, chainID)); err != nil {
		return nil, err
	}
	// wallets answer either with the raw hex or with {"raw": "0x...", "tx": {...}}
	var rawTx hexutil.Bytes
	if err := json.Unmarshal(raw, &rawTx); err != nil {
		var wrapped struct {
			Raw hexutil.Bytes `json:"raw"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil || len(wrapped.Raw) == 0 {
			return nil, fmt.Errorf("unexpected eth_signTransaction result: %w", err)
		}
		rawTx = wrapped.Raw
	}
	return decodeSignedTx(rawTx, s.address, chainID)
}

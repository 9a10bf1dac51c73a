package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/tyler-smith/go-bip39"
)

// LocalWallet is an in-process wallet that answers the EIP-1193 methods the
// session manager and signer use. Each account signs through a SignerService,
// either a derived key or a remote signer.
type LocalWallet struct {
	flags ProviderFlags
	feed  event.Feed

	mu       sync.Mutex
	signers  []*SignerService
	accounts []string // lowercase hex, same order as signers
	selected int
	locked   bool
	chainID  uint64
	known    map[uint64]AddChainParams
}

// AddChainParams is the wallet_addEthereumChain parameter object.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

// NewMnemonic generates a fresh 24 word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// NewHDWallet derives count accounts from mnemonic along m/44'/60'/0'/0/i.
// The wallet starts on homeChain and knows no other network until one is added.
func NewHDWallet(mnemonic string, count int, homeChain uint64, flags ProviderFlags) (*LocalWallet, error) {
	if count <= 0 {
		count = 1
	}
	keys, err := deriveAccountKeys(mnemonic, count)
	if err != nil {
		return nil, err
	}
	signers := make([]*SignerService, 0, len(keys))
	for _, k := range keys {
		signers = append(signers, NewKeySigner(k))
	}
	return NewSignerWallet(homeChain, flags, signers...)
}

// NewSignerWallet exposes one account per signer.
func NewSignerWallet(homeChain uint64, flags ProviderFlags, signers ...*SignerService) (*LocalWallet, error) {
	if len(signers) == 0 {
		return nil, errors.New("wallet needs at least one signer")
	}
	w := &LocalWallet{
		flags:   flags,
		signers: signers,
		chainID: homeChain,
		known:   map[uint64]AddChainParams{homeChain: {ChainID: hexutil.EncodeUint64(homeChain)}},
	}
	for _, s := range signers {
		w.accounts = append(w.accounts, strings.ToLower(s.Address().Hex()))
	}
	log.Info("Local wallet ready", "accounts", len(w.accounts), "first", w.accounts[0], "chain", homeChain)
	return w, nil
}

func deriveAccountKeys(mnemonic string, count int) ([]*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	// m/44'/60'/0'/0
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
	}
	change := masterKey
	for _, idx := range path {
		if change, err = change.Derive(idx); err != nil {
			return nil, fmt.Errorf("derive: %w", err)
		}
	}

	keys := make([]*ecdsa.PrivateKey, 0, count)
	for i := 0; i < count; i++ {
		child, err := change.Derive(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", i, err)
		}
		priv, err := child.ECPrivKey()
		if err != nil {
			return nil, fmt.Errorf("private key %d: %w", i, err)
		}
		key, err := crypto.ToECDSA(priv.Serialize())
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (w *LocalWallet) Flags() ProviderFlags { return w.flags }

func (w *LocalWallet) Subscribe(sink chan<- ProviderEvent) event.Subscription {
	return w.feed.Subscribe(sink)
}

// Accounts returns the exposed accounts, selected account first.
func (w *LocalWallet) Accounts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accountsLocked()
}

func (w *LocalWallet) accountsLocked() []string {
	if w.locked {
		return []string{}
	}
	out := []string{w.accounts[w.selected]}
	for i, a := range w.accounts {
		if i != w.selected {
			out = append(out, a)
		}
	}
	return out
}

// SelectAccount makes account i the selected one and emits accountsChanged.
func (w *LocalWallet) SelectAccount(i int) error {
	w.mu.Lock()
	if i < 0 || i >= len(w.accounts) {
		w.mu.Unlock()
		return fmt.Errorf("account index %d out of range", i)
	}
	w.selected = i
	w.locked = false
	accounts := w.accountsLocked()
	w.mu.Unlock()

	w.feed.Send(ProviderEvent{Kind: AccountsChanged, Accounts: accounts})
	return nil
}

// Lock hides every account and emits an empty accountsChanged.
func (w *LocalWallet) Lock() {
	w.mu.Lock()
	w.locked = true
	w.mu.Unlock()
	w.feed.Send(ProviderEvent{Kind: AccountsChanged, Accounts: []string{}})
}

func (w *LocalWallet) ChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

func (w *LocalWallet) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var resp interface{}
	switch method {
	case "eth_requestAccounts":
		w.mu.Lock()
		w.locked = false
		resp = w.accountsLocked()
		w.mu.Unlock()
	case "eth_accounts":
		resp = w.Accounts()
	case "eth_chainId":
		resp = hexutil.EncodeUint64(w.ChainID())
	case "wallet_switchEthereumChain":
		var p switchChainParams
		if err := decodeParam(params, &p); err != nil {
			return err
		}
		if err := w.switchChain(p.ChainID); err != nil {
			return err
		}
	case "wallet_addEthereumChain":
		var p AddChainParams
		if err := decodeParam(params, &p); err != nil {
			return err
		}
		id, err := hexutil.DecodeUint64(p.ChainID)
		if err != nil {
			return &ProviderError{Code: -32602, Message: "invalid chainId"}
		}
		w.mu.Lock()
		w.known[id] = p
		w.mu.Unlock()
	case "eth_signTransaction":
		var args TransactionArgs
		if err := decodeParam(params, &args); err != nil {
			return err
		}
		raw, err := w.signTransaction(ctx, args)
		if err != nil {
			return err
		}
		resp = hexutil.Bytes(raw)
	default:
		return &ProviderError{Code: CodeUnsupported, Message: fmt.Sprintf("method %s not supported", method)}
	}
	return assignResult(result, resp)
}

func (w *LocalWallet) switchChain(hexID string) error {
	id, err := hexutil.DecodeUint64(hexID)
	if err != nil {
		return &ProviderError{Code: -32602, Message: "invalid chainId"}
	}
	w.mu.Lock()
	if _, ok := w.known[id]; !ok {
		w.mu.Unlock()
		return &ProviderError{Code: CodeUnrecognizedChain, Message: "Unrecognized chain ID " + hexID}
	}
	changed := w.chainID != id
	w.chainID = id
	w.mu.Unlock()

	if changed {
		w.feed.Send(ProviderEvent{Kind: ChainChanged, ChainID: hexutil.EncodeUint64(id)})
	}
	return nil
}

func (w *LocalWallet) signTransaction(ctx context.Context, args TransactionArgs) ([]byte, error) {
	w.mu.Lock()
	chainID := w.chainID
	var signer *SignerService
	if !w.locked {
		from := strings.ToLower(args.From.Hex())
		for i, a := range w.accounts {
			if a == from {
				signer = w.signers[i]
			}
		}
	}
	w.mu.Unlock()

	if signer == nil {
		return nil, &ProviderError{Code: CodeUnauthorized, Message: "account not authorized: " + args.From.Hex()}
	}
	if args.ChainID != nil && args.ChainID.ToInt().Uint64() != chainID {
		return nil, &ProviderError{Code: CodeInternal, Message: "chainId does not match the active network"}
	}
	signed, err := signer.SignTx(ctx, args.toTransaction(), new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, err
	}
	return signed.MarshalBinary()
}

func decodeParam(params []interface{}, dst interface{}) error {
	if len(params) == 0 {
		return &ProviderError{Code: -32602, Message: "missing params"}
	}
	b, err := json.Marshal(params[0])
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return &ProviderError{Code: -32602, Message: "invalid params: " + err.Error()}
	}
	return nil
}

// assignResult copies resp into result through JSON, mirroring what an RPC
// transport would do.
func assignResult(result, resp interface{}) error {
	if result == nil {
		return nil
	}
	if resp == nil {
		return errors.New("empty response")
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

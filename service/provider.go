package service

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/event"
)

// ProviderFlags are the brand markers a wallet advertises on its injected object.
type ProviderFlags struct {
	IsMetaMask       bool
	IsCoinbaseWallet bool
	IsTrust          bool
	IsTrustWallet    bool
	IsBraveWallet    bool
}

type ProviderEventKind int

const (
	AccountsChanged ProviderEventKind = iota
	ChainChanged
	ProviderDisconnected
)

// ProviderEvent is a notification emitted by a wallet provider.
type ProviderEvent struct {
	Kind     ProviderEventKind
	Accounts []string // AccountsChanged
	ChainID  string   // ChainChanged, 0x-prefixed
	Err      error    // ProviderDisconnected
}

// EthereumProvider is an EIP-1193 style wallet: JSON-RPC requests plus events.
type EthereumProvider interface {
	// Request performs method with params and decodes the response into result
	// (which may be nil).
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
	Subscribe(sink chan<- ProviderEvent) event.Subscription
	Flags() ProviderFlags
}

// Injected is the set of providers the host exposes, the equivalent of the
// browser's injected ethereum object and its providers list.
type Injected struct {
	providers []EthereumProvider
}

func NewInjected(providers ...EthereumProvider) *Injected {
	return &Injected{providers: providers}
}

func (in *Injected) Providers() []EthereumProvider {
	if in == nil {
		return nil
	}
	return in.providers
}

// ProviderInfo describes a wallet brand offered to the user.
type ProviderInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Icon        string `json:"icon"`
}

type walletKind struct {
	info  ProviderInfo
	match func(ProviderFlags) bool
}

// walletKinds is ordered by priority.
var walletKinds = []walletKind{
	{
		info:  ProviderInfo{ID: "metamask", DisplayName: "MetaMask", Icon: "🦊"},
		match: func(f ProviderFlags) bool { return f.IsMetaMask && !f.IsBraveWallet },
	},
	{
		info:  ProviderInfo{ID: "coinbase", DisplayName: "Coinbase Wallet", Icon: "📱"},
		match: func(f ProviderFlags) bool { return f.IsCoinbaseWallet },
	},
	{
		info:  ProviderInfo{ID: "trust", DisplayName: "Trust Wallet", Icon: "🔐"},
		match: func(f ProviderFlags) bool { return f.IsTrust || f.IsTrustWallet },
	},
	{
		info:  ProviderInfo{ID: "brave", DisplayName: "Brave Wallet", Icon: "🦁"},
		match: func(f ProviderFlags) bool { return f.IsBraveWallet },
	},
}

func lookupWalletKind(id string) (walletKind, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, k := range walletKinds {
		if k.info.ID == id {
			return k, true
		}
	}
	return walletKind{}, false
}

// find returns the first injected provider matching the kind.
func (k walletKind) find(in *Injected) (EthereumProvider, bool) {
	for _, p := range in.Providers() {
		if k.match(p.Flags()) {
			return p, true
		}
	}
	return nil, false
}

// AvailableProviders lists the wallet brands currently injected, in priority order.
func AvailableProviders(in *Injected) []ProviderInfo {
	out := make([]ProviderInfo, 0, len(walletKinds))
	for _, k := range walletKinds {
		if _, ok := k.find(in); ok {
			out = append(out, k.info)
		}
	}
	return out
}

// FlagsForBrand returns the flags a provider posing as brand should advertise.
func FlagsForBrand(brand string) ProviderFlags {
	switch strings.ToLower(brand) {
	case "coinbase":
		return ProviderFlags{IsCoinbaseWallet: true}
	case "trust":
		return ProviderFlags{IsTrust: true, IsTrustWallet: true}
	case "brave":
		return ProviderFlags{IsBraveWallet: true}
	default:
		return ProviderFlags{IsMetaMask: true}
	}
}

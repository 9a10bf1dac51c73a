package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/regen_bazaar/config"
	"github.com/regen_bazaar/model"
)

const (
	defaultMaxAttempts    = 3
	defaultConnectTimeout = 30 * time.Second
)

// AccountChange is published whenever the active address changes. Address is
// nil when the session was cleared.
type AccountChange struct {
	Address *string `json:"address"`
	Reason  string  `json:"reason"`
}

// SessionManager owns the single process-wide wallet session.
type SessionManager struct {
	injected       *Injected
	chain          config.ChainConfig
	maxAttempts    int
	connectTimeout time.Duration
	manualEntry    bool
	logger         log.Logger

	mu       sync.Mutex
	session  model.WalletSession
	provider EthereumProvider
	sub      event.Subscription
	gen      uint64
	attempts int

	feed event.Feed // AccountChange
}

type SessionOption func(*SessionManager)

func WithMaxAttempts(n int) SessionOption {
	return func(m *SessionManager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithConnectTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithManualWalletEntry lets Connect pick a specific exposed account.
func WithManualWalletEntry(enabled bool) SessionOption {
	return func(m *SessionManager) { m.manualEntry = enabled }
}

func NewSessionManager(injected *Injected, chain config.ChainConfig, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		injected:       injected,
		chain:          chain,
		maxAttempts:    defaultMaxAttempts,
		connectTimeout: defaultConnectTimeout,
		logger:         log.New("component", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListAvailableProviders returns the wallet brands that are currently injected.
func (m *SessionManager) ListAvailableProviders() []ProviderInfo {
	return AvailableProviders(m.injected)
}

// Connect connects the wallet identified by providerID, switches it to the
// target network and returns the first account, lowercased.
func (m *SessionManager) Connect(ctx context.Context, providerID, manualAddress string) (string, error) {
	m.mu.Lock()
	if m.session.State == model.Connecting {
		m.mu.Unlock()
		return "", ErrConnectInProgress
	}
	if attempts := m.attempts; attempts >= m.maxAttempts {
		m.mu.Unlock()
		m.logger.Warn("Connect refused", "provider", providerID, "attempts", attempts)
		return "", ErrMaxAttempts
	}
	prev := m.teardownLocked()
	m.session = model.WalletSession{State: model.Connecting, ProviderID: providerID}
	m.mu.Unlock()
	if prev != nil {
		m.feed.Send(AccountChange{Reason: "reconnect"})
	}

	provider, address, err := m.connect(ctx, providerID, manualAddress)

	m.mu.Lock()
	if err != nil {
		m.session = model.WalletSession{State: model.Disconnected}
		switch {
		case errors.Is(err, ErrUserRejected):
			m.attempts = 0
		case errors.Is(err, ErrProviderNotFound), errors.Is(err, ErrUnsupportedWallet):
		default:
			m.attempts++
		}
		attempts := m.attempts
		m.mu.Unlock()
		m.logger.Warn("Wallet connect failed", "provider", providerID, "attempts", attempts, "err", err)
		return "", err
	}

	m.attempts = 0
	m.gen++
	m.provider = provider
	m.session = model.WalletSession{
		ActiveAddress: &address,
		ChainID:       m.chain.ID,
		ProviderID:    providerID,
		State:         model.Connected,
		ConnectedAt:   time.Now(),
	}
	events := make(chan ProviderEvent, 16)
	m.sub = provider.Subscribe(events)
	go m.watch(m.gen, m.sub, events)
	m.mu.Unlock()

	m.logger.Info("Wallet connected", "provider", providerID, "address", address, "chain", m.chain.ID)
	m.feed.Send(AccountChange{Address: &address, Reason: "connected"})
	return address, nil
}

func (m *SessionManager) connect(ctx context.Context, providerID, manualAddress string) (EthereumProvider, string, error) {
	kind, ok := lookupWalletKind(providerID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedWallet, providerID)
	}
	provider, ok := kind.find(m.injected)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrProviderNotFound, kind.info.DisplayName)
	}
	if err := m.switchChain(ctx, provider); err != nil {
		return nil, "", err
	}
	accounts, err := m.requestAccounts(ctx, provider)
	if err != nil {
		return nil, "", err
	}
	if len(accounts) == 0 {
		return nil, "", ErrNoAccounts
	}
	address := strings.ToLower(accounts[0])
	if m.manualEntry && manualAddress != "" {
		want := strings.TrimSpace(manualAddress)
		if !common.IsHexAddress(want) {
			return nil, "", fmt.Errorf("%w: %q is not an address", ErrAccountNotAvailable, manualAddress)
		}
		want = strings.ToLower(common.HexToAddress(want).Hex())
		found := false
		for _, a := range accounts {
			if strings.ToLower(a) == want {
				found = true
				break
			}
		}
		if !found {
			return nil, "", fmt.Errorf("%w: %s", ErrAccountNotAvailable, want)
		}
		address = want
	}
	return provider, address, nil
}

// switchChain moves the wallet to the target network, registering it first
// when the wallet does not know it.
func (m *SessionManager) switchChain(ctx context.Context, provider EthereumProvider) error {
	params := switchChainParams{ChainID: m.chain.HexID()}
	err := provider.Request(ctx, nil, "wallet_switchEthereumChain", params)
	if err == nil {
		return nil
	}
	if isUserRejection(err) {
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	code, _ := providerCode(err)
	if code != CodeUnrecognizedChain && code != CodeInternal {
		return fmt.Errorf("%w: %v", ErrChainSwitchFailed, err)
	}

	m.logger.Info("Registering network with wallet", "chain", m.chain.Name, "id", m.chain.HexID())
	add := AddChainParams{
		ChainID:   m.chain.HexID(),
		ChainName: m.chain.Name,
		NativeCurrency: NativeCurrency{
			Name:     m.chain.CurrencyName,
			Symbol:   m.chain.CurrencySymbol,
			Decimals: m.chain.Decimals,
		},
		RPCURLs:           m.chain.RPCURLs,
		BlockExplorerURLs: m.chain.ExplorerURLs,
	}
	if err := provider.Request(ctx, nil, "wallet_addEthereumChain", add); err != nil {
		if isUserRejection(err) {
			return fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return fmt.Errorf("%w: add network: %v", ErrChainSwitchFailed, err)
	}
	if err := provider.Request(ctx, nil, "wallet_switchEthereumChain", params); err != nil {
		if isUserRejection(err) {
			return fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return fmt.Errorf("%w: %v", ErrChainSwitchFailed, err)
	}
	return nil
}

func (m *SessionManager) requestAccounts(ctx context.Context, provider EthereumProvider) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	type result struct {
		accounts []string
		err      error
	}
	done := make(chan result, 1)
	go func() {
		var accounts []string
		err := provider.Request(reqCtx, &accounts, "eth_requestAccounts")
		done <- result{accounts, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if isUserRejection(r.err) {
				return nil, fmt.Errorf("%w: %v", ErrUserRejected, r.err)
			}
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, ErrConnectionTimeout
			}
			return nil, r.err
		}
		return r.accounts, nil
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrConnectionTimeout
	}
}

// Disconnect clears the session. It never fails.
func (m *SessionManager) Disconnect() {
	m.mu.Lock()
	prev := m.teardownLocked()
	m.attempts = 0
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("Wallet disconnected", "address", *prev)
		m.feed.Send(AccountChange{Reason: "disconnected"})
	}
}

// ResetAttempts clears the failed attempt counter.
func (m *SessionManager) ResetAttempts() {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
}

// teardownLocked drops the provider subscription and resets the session,
// returning the address that was active, if any.
func (m *SessionManager) teardownLocked() *string {
	prev := m.session.ActiveAddress
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	m.provider = nil
	m.gen++
	m.session = model.WalletSession{State: model.Disconnected}
	return prev
}

func (m *SessionManager) watch(gen uint64, sub event.Subscription, events <-chan ProviderEvent) {
	for {
		select {
		case ev := <-events:
			m.handleProviderEvent(gen, ev)
		case <-sub.Err():
			return
		}
	}
}

func (m *SessionManager) handleProviderEvent(gen uint64, ev ProviderEvent) {
	var change *AccountChange

	m.mu.Lock()
	if gen != m.gen || m.session.State != model.Connected {
		m.mu.Unlock()
		return
	}
	switch ev.Kind {
	case AccountsChanged:
		if len(ev.Accounts) == 0 {
			m.teardownLocked()
			change = &AccountChange{Reason: "accounts cleared"}
			break
		}
		address := strings.ToLower(ev.Accounts[0])
		if m.session.ActiveAddress == nil || *m.session.ActiveAddress != address {
			m.session.ActiveAddress = &address
			change = &AccountChange{Address: &address, Reason: "account changed"}
		}
	case ChainChanged:
		id, err := hexutil.DecodeUint64(ev.ChainID)
		if err != nil || id != m.chain.ID {
			m.teardownLocked()
			change = &AccountChange{Reason: "chain changed"}
		}
	case ProviderDisconnected:
		m.teardownLocked()
		change = &AccountChange{Reason: "provider disconnected"}
	}
	m.mu.Unlock()

	if change != nil {
		m.logger.Info("Wallet session changed", "reason", change.Reason, "address", change.Address)
		m.feed.Send(*change)
	}
}

// SubscribeSessionEvents delivers every AccountChange to sink. The sink must
// be drained, a blocked sink stalls session updates.
func (m *SessionManager) SubscribeSessionEvents(sink chan<- AccountChange) event.Subscription {
	return m.feed.Subscribe(sink)
}

// SubscribeAccountChanges calls fn with the new address, or nil when the
// session was cleared. The returned function unsubscribes and may be called
// any number of times.
func (m *SessionManager) SubscribeAccountChanges(fn func(address *string)) (unsubscribe func()) {
	ch := make(chan AccountChange, 8)
	sub := m.feed.Subscribe(ch)
	go func() {
		for {
			select {
			case c := <-ch:
				fn(c.Address)
			case <-sub.Err():
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(sub.Unsubscribe) }
}

// Session returns a copy of the current session.
func (m *SessionManager) Session() model.WalletSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s.ActiveAddress != nil {
		addr := *s.ActiveAddress
		s.ActiveAddress = &addr
	}
	return s
}

// ActiveAddress returns the connected account, if any.
func (m *SessionManager) ActiveAddress() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != model.Connected || m.session.ActiveAddress == nil {
		return "", false
	}
	return *m.session.ActiveAddress, true
}

// Signer returns a signer for the active account.
func (m *SessionManager) Signer() (Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != model.Connected || m.session.ActiveAddress == nil || m.provider == nil {
		return nil, ErrNoWalletConnected
	}
	return NewProviderSigner(m.provider, common.HexToAddress(*m.session.ActiveAddress)), nil
}

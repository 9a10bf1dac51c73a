package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCProvider is a wallet reached over JSON-RPC, e.g. a desktop wallet bridge.
// The transport has no push channel, so account and chain changes are polled.
type RPCProvider struct {
	client   *rpc.Client
	flags    ProviderFlags
	interval time.Duration
	feed     event.Feed
	logger   log.Logger

	mu       sync.Mutex
	accounts []string
	chainID  string
	down     bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// DialRPCProvider connects to url and advertises the flags of brand.
func DialRPCProvider(ctx context.Context, url, brand string, interval time.Duration) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRPCProvider(client, FlagsForBrand(brand), interval), nil
}

func NewRPCProvider(client *rpc.Client, flags ProviderFlags, interval time.Duration) *RPCProvider {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &RPCProvider{
		client:   client,
		flags:    flags,
		interval: interval,
		logger:   log.New("component", "rpc-provider"),
		quit:     make(chan struct{}),
	}
}

func (p *RPCProvider) Flags() ProviderFlags { return p.flags }

func (p *RPCProvider) Subscribe(sink chan<- ProviderEvent) event.Subscription {
	return p.feed.Subscribe(sink)
}

func (p *RPCProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	return p.client.CallContext(ctx, result, method, params...)
}

// Start begins polling for account and chain changes.
func (p *RPCProvider) Start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *RPCProvider) Close() {
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
	p.wg.Wait()
	p.client.Close()
}

func (p *RPCProvider) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *RPCProvider) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	var accounts []string
	var chainID string
	err := p.client.CallContext(ctx, &accounts, "eth_accounts")
	if err == nil {
		err = p.client.CallContext(ctx, &chainID, "eth_chainId")
	}

	var events []ProviderEvent
	p.mu.Lock()
	switch {
	case err != nil:
		if !p.down {
			p.down = true
			p.accounts, p.chainID = nil, ""
			events = append(events, ProviderEvent{Kind: ProviderDisconnected, Err: err})
		}
	default:
		p.down = false
		for i := range accounts {
			accounts[i] = strings.ToLower(accounts[i])
		}
		if p.accounts != nil && !sameAccounts(p.accounts, accounts) {
			events = append(events, ProviderEvent{Kind: AccountsChanged, Accounts: accounts})
		}
		if p.chainID != "" && !strings.EqualFold(p.chainID, chainID) {
			events = append(events, ProviderEvent{Kind: ChainChanged, ChainID: chainID})
		}
		p.accounts, p.chainID = accounts, chainID
	}
	p.mu.Unlock()

	for _, ev := range events {
		p.logger.Debug("Wallet event", "kind", ev.Kind, "accounts", len(ev.Accounts), "chain", ev.ChainID, "err", ev.Err)
		p.feed.Send(ev)
	}
}

func sameAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"gorm.io/gorm"

	"github.com/regen_bazaar/config"
	"github.com/regen_bazaar/controller"
	"github.com/regen_bazaar/handler"
	"github.com/regen_bazaar/repository"
	"github.com/regen_bazaar/router"
	"github.com/regen_bazaar/service"
)

// wallets injected by a fresh browser profile start on mainnet
const localWalletHomeChain = 1

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Crit("Load config", "err", err)
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := initDB(cfg.DatabaseDSN)

	client, err := ethclient.DialContext(ctx, cfg.Vault.NodeRPCURL)
	if err != nil {
		log.Crit("Dial vault node", "url", cfg.Vault.NodeRPCURL, "err", err)
	}
	defer client.Close()

	injected, closeProviders := initProviders(ctx, cfg)
	defer closeProviders()

	sessions := service.NewSessionManager(injected, cfg.Chain,
		service.WithMaxAttempts(cfg.Wallet.MaxAttempts),
		service.WithConnectTimeout(cfg.Wallet.ConnectTimeout),
		service.WithManualWalletEntry(cfg.ManualWalletEntry),
	)
	unsubscribe := sessions.SubscribeAccountChanges(func(address *string) {
		if address == nil {
			log.Info("Wallet session cleared")
			return
		}
		log.Info("Active account changed", "address", *address)
	})
	defer unsubscribe()

	orgRepo := repository.NewOrganizationRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	stakeRepo := repository.NewStakeRepository(db)
	eventRepo := repository.NewVaultEventRepository(db)

	vault := service.NewDepositVault(client, cfg.Vault.ContractAddress(), cfg.Chain.BigID(), cfg.Vault.GasLimit)
	progress := &service.ProgressFeed{}
	orchestrator := service.NewOrchestrator(sessions, vault, purchaseRepo, stakeRepo, progress)

	var images service.ImageGenerator = service.PlaceholderImages{URL: cfg.PlaceholderImageURL}
	if cfg.ImageGeneration {
		images = service.NewOpenAIImages(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	}
	market := service.NewMarketService(orgRepo, projectRepo, purchaseRepo, stakeRepo, eventRepo, images)

	if cfg.Scan.Enabled {
		scanner := service.NewVaultScanner(client, db, service.ScannerConfig{
			Chain:         cfg.Chain.Name,
			Vault:         cfg.Vault.ContractAddress(),
			Confirmations: cfg.Scan.Confirmations,
			PollInterval:  cfg.Scan.PollInterval,
			StartBlock:    cfg.Scan.StartBlock,
		})
		go scanner.Run(ctx)
		go service.NewReconcileProcessor(db, cfg.Chain.Name).Run(ctx)
	}

	r := router.SetupRouter(
		handler.NewWalletHandler(sessions),
		handler.NewTradeHandler(orchestrator, market, sessions, progress, vault, cfg.Vault.StakeAmount),
		&controller.MarketController{MarketService: market},
	)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		sessions.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("Regen Bazaar backend running", "port", cfg.Port, "chain", cfg.Chain.ID, "vault", cfg.Vault.Address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Crit("HTTP server stopped", "err", err)
	}
}

func setupLogger(level string) {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		lvl = log.LevelInfo
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}

// ----------------- 初始化数据库 -----------------
func initDB(dsn string) *gorm.DB {
	db, err := repository.Open(dsn)
	if err != nil {
		log.Crit("Open database", "err", err)
	}
	return db
}

// ----------------- 初始化钱包 -----------------
func initProviders(ctx context.Context, cfg *config.Config) (*service.Injected, func()) {
	var (
		providers []service.EthereumProvider
		closers   []func()
	)

	if cfg.Wallet.DevMnemonic != "" {
		w, err := service.NewHDWallet(cfg.Wallet.DevMnemonic, cfg.Wallet.DevAccounts, localWalletHomeChain, service.FlagsForBrand(cfg.Wallet.DevBrand))
		if err != nil {
			log.Crit("Create HD wallet", "err", err)
		}
		providers = append(providers, w)
	}

	if cfg.Wallet.SignerURL != "" || cfg.Wallet.SignerKey != "" {
		signer, err := service.NewSignerService(cfg.Wallet.SignerURL, cfg.Wallet.SignerAddress, cfg.Wallet.SignerKey)
		if err != nil {
			log.Crit("Create signer service", "err", err)
		}
		w, err := service.NewSignerWallet(localWalletHomeChain, service.FlagsForBrand(cfg.Wallet.SignerBrand), signer)
		if err != nil {
			log.Crit("Create signer wallet", "err", err)
		}
		providers = append(providers, w)
	}

	if cfg.Wallet.RPCURL != "" {
		p, err := service.DialRPCProvider(ctx, cfg.Wallet.RPCURL, cfg.Wallet.Brand, cfg.Wallet.PollInterval)
		if err != nil {
			log.Crit("Dial wallet bridge", "url", cfg.Wallet.RPCURL, "err", err)
		}
		p.Start()
		providers = append(providers, p)
		closers = append(closers, p.Close)
	}

	if len(providers) == 0 {
		log.Warn("No wallet provider configured, connect requests will fail")
	}
	return service.NewInjected(providers...), func() {
		for _, c := range closers {
			c()
		}
	}
}

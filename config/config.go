package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config contains all configuration parameters for the application.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseDSN string `envconfig:"DATABASE_DSN" default:"host=localhost user=postgres password=postgres dbname=bazaar port=5432 sslmode=disable"`

	// Nested keys are prefixed with the field name, e.g. CHAIN_ID, WALLET_DEV_MNEMONIC.
	Chain  ChainConfig
	Wallet WalletConfig
	Vault  VaultConfig
	Scan   ScanConfig

	ImageGeneration     bool   `envconfig:"FEATURE_IMAGE_GENERATION" default:"false"`
	ManualWalletEntry   bool   `envconfig:"FEATURE_MANUAL_WALLET_ENTRY" default:"false"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	PlaceholderImageURL string `envconfig:"PLACEHOLDER_IMAGE_URL" default:"https://images.unsplash.com/photo-1542601906990-b4d3fb778b09?auto=format&fit=crop&w=1024&q=80"`
}

// ChainConfig describes the target network the wallet is switched to.
type ChainConfig struct {
	ID             uint64   `envconfig:"ID" default:"84532"`
	Name           string   `envconfig:"NAME" default:"Base Sepolia"`
	CurrencyName   string   `envconfig:"CURRENCY_NAME" default:"Ethereum"`
	CurrencySymbol string   `envconfig:"CURRENCY_SYMBOL" default:"ETH"`
	Decimals       int      `envconfig:"CURRENCY_DECIMALS" default:"18"`
	RPCURLs        []string `envconfig:"RPC_URLS" default:"https://sepolia.base.org"`
	ExplorerURLs   []string `envconfig:"EXPLORER_URLS" default:"https://sepolia.basescan.org"`
}

// HexID returns the chain id in the 0x-prefixed form wallets expect.
func (c ChainConfig) HexID() string {
	return hexutil.EncodeUint64(c.ID)
}

func (c ChainConfig) BigID() *big.Int {
	return new(big.Int).SetUint64(c.ID)
}

type WalletConfig struct {
	// RPCURL points at an external wallet bridge speaking EIP-1193 over JSON-RPC.
	RPCURL       string        `envconfig:"RPC_URL"`
	Brand        string        `envconfig:"BRAND" default:"metamask"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`

	DevMnemonic string `envconfig:"DEV_MNEMONIC"`
	DevAccounts int    `envconfig:"DEV_ACCOUNTS" default:"1"`
	DevBrand    string `envconfig:"DEV_BRAND" default:"metamask"`

	// A wallet backed by the signing service, or by a single local key.
	SignerURL     string `envconfig:"SIGNER_URL"`
	SignerAddress string `envconfig:"SIGNER_ADDRESS"`
	SignerKey     string `envconfig:"SIGNER_KEY"`
	SignerBrand   string `envconfig:"SIGNER_BRAND" default:"coinbase"`

	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"3"`
}

type VaultConfig struct {
	Address     string `envconfig:"ADDRESS" default:"0x3dB4D3DE3A936A4D332c05eA62014C5Cfe0270C8"`
	NodeRPCURL  string `envconfig:"NODE_RPC_URL" default:"https://sepolia.base.org"`
	GasLimit    uint64 `envconfig:"GAS_LIMIT" default:"100000"`
	StakeAmount string `envconfig:"STAKE_AMOUNT" default:"0.01"`
}

func (v VaultConfig) ContractAddress() common.Address {
	return common.HexToAddress(v.Address)
}

type ScanConfig struct {
	Enabled       bool          `envconfig:"ENABLED" default:"false"`
	Confirmations uint64        `envconfig:"CONFIRMATIONS" default:"12"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"3s"`
	StartBlock    uint64        `envconfig:"START_BLOCK" default:"0"`
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Vault.Address) {
		return fmt.Errorf("VAULT_ADDRESS is not a hex address: %q", c.Vault.Address)
	}
	if c.Wallet.MaxAttempts <= 0 {
		return fmt.Errorf("WALLET_MAX_ATTEMPTS must be positive")
	}
	if c.Wallet.ConnectTimeout <= 0 {
		return fmt.Errorf("WALLET_CONNECT_TIMEOUT must be positive")
	}
	if c.Wallet.SignerURL != "" && !common.IsHexAddress(c.Wallet.SignerAddress) {
		return fmt.Errorf("WALLET_SIGNER_URL requires WALLET_SIGNER_ADDRESS")
	}
	if amt, err := decimal.NewFromString(c.Vault.StakeAmount); err != nil || !amt.IsPositive() {
		return fmt.Errorf("VAULT_STAKE_AMOUNT must be a positive decimal: %q", c.Vault.StakeAmount)
	}
	if c.ImageGeneration && c.OpenAIAPIKey == "" {
		return fmt.Errorf("FEATURE_IMAGE_GENERATION requires OPENAI_API_KEY")
	}
	return nil
}

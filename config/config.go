// Package config loads process configuration: built-in defaults, then an
// optional YAML file, then an optional .env file, then MEDSHARE_* environment
// overrides. Secrets are only ever read from the environment.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"medshare/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendEthereum = "ethereum"
	BackendDevnet   = "devnet"
	BackendPinata   = "pinata"
)

type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	LogLevel   string         `yaml:"log_level"`
	Network    wallet.Network `yaml:"network"`
	Ledger     LedgerConfig   `yaml:"ledger"`
	Store      StoreConfig    `yaml:"store"`
	Wallet     WalletConfig   `yaml:"wallet"`
	Auth       AuthConfig     `yaml:"auth"`
	Database   DatabaseConfig `yaml:"database"`
}

type LedgerConfig struct {
	Backend  string `yaml:"backend"`
	Contract string `yaml:"contract"`
	GasLimit uint64 `yaml:"gas_limit"`
	Devnet   struct {
		Path           string `yaml:"path"`
		Fee            string `yaml:"fee_wei"`
		GenesisBalance string `yaml:"genesis_balance_wei"`
		GasPrice       string `yaml:"gas_price_wei"`
	} `yaml:"devnet"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	APIURL     string `yaml:"api_url"`
	GatewayURL string `yaml:"gateway_url"`
	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	DevnetPath string `yaml:"devnet_path"`
}

type WalletConfig struct {
	Keys        []string `yaml:"-"`
	AutoApprove bool     `yaml:"auto_approve"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"-"`
}

type DatabaseConfig struct {
	DSN string `yaml:"-"`
}

// Default is a local devnet setup that needs nothing external.
func Default() *Config {
	c := &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Network: wallet.Network{
			ChainID: 1337,
			Name:    "Localhost 8545",
			RPCURL:  "http://127.0.0.1:8545",
			Currency: wallet.Currency{
				Name:     "ETH",
				Symbol:   "ETH",
				Decimals: 18,
			},
		},
		Ledger: LedgerConfig{
			Backend:  BackendDevnet,
			GasLimit: 1_000_000,
		},
		Store: StoreConfig{
			Backend:    BackendDevnet,
			APIURL:     "https://api.pinata.cloud",
			GatewayURL: "https://gateway.pinata.cloud",
		},
	}
	c.Ledger.Devnet.Fee = "10000000000000000"                // 0.01 ETH
	c.Ledger.Devnet.GenesisBalance = "100000000000000000000" // 100 ETH
	c.Ledger.Devnet.GasPrice = "1000000000"                  // 1 gwei
	return c
}

// Load builds the configuration. An empty path or a missing file leaves the
// defaults in place; envFile is loaded without overriding variables already set.
func Load(path, envFile string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config load: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("config unmarshal: %w", err)
			}
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config env file: %w", err)
		}
	}
	if err := applyEnvOverrides(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("MEDSHARE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("MEDSHARE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MEDSHARE_CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MEDSHARE_CHAIN_ID: %w", err)
		}
		c.Network.ChainID = id
	}
	if v := os.Getenv("MEDSHARE_RPC_URL"); v != "" {
		c.Network.RPCURL = v
	}
	if v := os.Getenv("MEDSHARE_LEDGER_BACKEND"); v != "" {
		c.Ledger.Backend = v
	}
	if v := os.Getenv("MEDSHARE_CONTRACT"); v != "" {
		c.Ledger.Contract = v
	}
	if v := os.Getenv("MEDSHARE_DEVNET_PATH"); v != "" {
		c.Ledger.Devnet.Path = v
	}
	if v := os.Getenv("MEDSHARE_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("MEDSHARE_GATEWAY_URL"); v != "" {
		c.Store.GatewayURL = v
	}
	if v := os.Getenv("MEDSHARE_STORE_DEVNET_PATH"); v != "" {
		c.Store.DevnetPath = v
	}
	c.Store.APIKey = strings.TrimSpace(os.Getenv("MEDSHARE_PINATA_API_KEY"))
	c.Store.APISecret = strings.TrimSpace(os.Getenv("MEDSHARE_PINATA_API_SECRET"))
	c.Auth.JWTSecret = os.Getenv("MEDSHARE_JWT_SECRET")
	c.Database.DSN = strings.TrimSpace(os.Getenv("MEDSHARE_DATABASE_DSN"))
	c.Wallet.Keys = nil
	for _, k := range strings.Split(os.Getenv("MEDSHARE_SIGNER_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			c.Wallet.Keys = append(c.Wallet.Keys, k)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Network.ChainID == 0 {
		errs = append(errs, errors.New("network.chain_id must be set"))
	}
	switch c.Ledger.Backend {
	case BackendDevnet:
		for name, v := range map[string]string{
			"ledger.devnet.fee_wei":             c.Ledger.Devnet.Fee,
			"ledger.devnet.genesis_balance_wei": c.Ledger.Devnet.GenesisBalance,
			"ledger.devnet.gas_price_wei":       c.Ledger.Devnet.GasPrice,
		} {
			if _, ok := parseWei(v); !ok {
				errs = append(errs, fmt.Errorf("%s: %q is not a wei amount", name, v))
			}
		}
	case BackendEthereum:
		if !common.IsHexAddress(c.Ledger.Contract) {
			errs = append(errs, fmt.Errorf("ledger.contract: %q is not an address", c.Ledger.Contract))
		}
		if c.Network.RPCURL == "" {
			errs = append(errs, errors.New("network.rpc_url must be set for the ethereum backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend: unknown backend %q", c.Ledger.Backend))
	}
	switch c.Store.Backend {
	case BackendDevnet, BackendPinata:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.GatewayURL == "" {
		errs = append(errs, errors.New("store.gateway_url must be set"))
	}
	if c.Ledger.GasLimit == 0 {
		errs = append(errs, errors.New("ledger.gas_limit must be positive"))
	}
	return errors.Join(errs...)
}

// DevnetFee, DevnetGenesisBalance and DevnetGasPrice are only meaningful
// after Validate has accepted a devnet configuration.
func (c *Config) DevnetFee() *big.Int {
	v, _ := parseWei(c.Ledger.Devnet.Fee)
	return v
}

func (c *Config) DevnetGenesisBalance() *big.Int {
	v, _ := parseWei(c.Ledger.Devnet.GenesisBalance)
	return v
}

func (c *Config) DevnetGasPrice() *big.Int {
	v, _ := parseWei(c.Ledger.Devnet.GasPrice)
	return v
}

func parseWei(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

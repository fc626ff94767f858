package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"testnet-automation/pkg/quote"
	"testnet-automation/pkg/retry"
	"testnet-automation/pkg/shared"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

// FileNames are searched in order when no explicit config path is given.
var FileNames = []string{"config.yaml", "config.yml", "config.json"}

type Config struct {
	EnableTransfer           bool    `yaml:"enable_transfer" json:"enable_transfer"`
	GasPriceMultiplier       float64 `yaml:"gas_price_multiplier" json:"gas_price_multiplier"`
	MaxRetries               int     `yaml:"max_retries" json:"max_retries"`
	BaseWaitTime             float64 `yaml:"base_wait_time" json:"base_wait_time"`
	TransferAmountPercentage int64   `yaml:"transfer_amount_percentage" json:"transfer_amount_percentage"`
	RequestTimeout           float64 `yaml:"request_timeout" json:"request_timeout"`
	RPCRateLimit             float64 `yaml:"rpc_rate_limit" json:"rpc_rate_limit"`
	LogLevel                 string  `yaml:"log_level" json:"log_level"`
	CycleCooldownHours       float64 `yaml:"cycle_cooldown_hours" json:"cycle_cooldown_hours"`
	CancelStuckTransactions  bool    `yaml:"cancel_stuck_transactions" json:"cancel_stuck_transactions"`

	WalletPause Pause   `yaml:"wallet_pause" json:"wallet_pause"`
	Chains      Chains  `yaml:"chains" json:"chains"`
	Quote       Quote   `yaml:"quote" json:"quote"`
	Metrics     Metrics `yaml:"metrics" json:"metrics"`
	Bridge      Bridge  `yaml:"bridge" json:"bridge"`
}

type Pause struct {
	MinSeconds float64 `yaml:"min_seconds" json:"min_seconds"`
	MaxSeconds float64 `yaml:"max_seconds" json:"max_seconds"`
}

type Chain struct {
	RPCURL      string `yaml:"rpc_url" json:"rpc_url"`
	ChainID     int64  `yaml:"chain_id" json:"chain_id"`
	ExplorerURL string `yaml:"explorer_url" json:"explorer_url"`
}

type Chains struct {
	Sepolia Chain `yaml:"sepolia" json:"sepolia"`
	Ithaca  Chain `yaml:"ithaca" json:"ithaca"`
}

type Quote struct {
	URL  string `yaml:"url" json:"url"`
	Host string `yaml:"host" json:"host"`
}

type Metrics struct {
	ListenAddr string  `yaml:"listen_addr" json:"listen_addr"`
	Datadog    Datadog `yaml:"datadog" json:"datadog"`
}

type Datadog struct {
	APIKey string   `yaml:"api_key" json:"api_key"`
	AppKey string   `yaml:"app_key" json:"app_key"`
	Tags   []string `yaml:"tags" json:"tags"`
}

type Bridge struct {
	EnableSepoliaToIthaca bool      `yaml:"enable_sepolia_to_ithaca" json:"enable_sepolia_to_ithaca"`
	EnableIthacaToSepolia bool      `yaml:"enable_ithaca_to_sepolia" json:"enable_ithaca_to_sepolia"`
	SepoliaToIthaca       Direction `yaml:"sepolia_to_ithaca" json:"sepolia_to_ithaca"`
	IthacaToSepolia       Direction `yaml:"ithaca_to_sepolia" json:"ithaca_to_sepolia"`
	GasPriceMultiplier    float64   `yaml:"gas_price_multiplier" json:"gas_price_multiplier"`
	MaxRetries            int       `yaml:"max_retries" json:"max_retries"`
}

// Direction bounds one bridge direction. Amounts are in ether, times in
// milliseconds.
type Direction struct {
	MinAmount           float64 `yaml:"min_amount" json:"min_amount"`
	MaxAmount           float64 `yaml:"max_amount" json:"max_amount"`
	WaitForConfirmation bool    `yaml:"wait_for_confirmation" json:"wait_for_confirmation"`
	MaxWaitTime         int64   `yaml:"max_wait_time" json:"max_wait_time"`
	PollInterval        int64   `yaml:"poll_interval" json:"poll_interval"`
}

func Default() *Config {
	sepolia := shared.DefaultNetwork(shared.Sepolia)
	ithaca := shared.DefaultNetwork(shared.Ithaca)
	return &Config{
		EnableTransfer:           true,
		GasPriceMultiplier:       1.1,
		MaxRetries:               5,
		BaseWaitTime:             10,
		TransferAmountPercentage: 90,
		RequestTimeout:           30,
		LogLevel:                 "info",
		CycleCooldownHours:       25,
		WalletPause:              Pause{MinSeconds: 5, MaxSeconds: 15},
		Chains: Chains{
			Sepolia: Chain{RPCURL: sepolia.RPCURL, ChainID: sepolia.ChainID.Int64(), ExplorerURL: sepolia.ExplorerURL},
			Ithaca:  Chain{RPCURL: ithaca.RPCURL, ChainID: ithaca.ChainID.Int64(), ExplorerURL: ithaca.ExplorerURL},
		},
		Quote: Quote{URL: quote.DefaultURL, Host: quote.DefaultHost},
		Bridge: Bridge{
			EnableSepoliaToIthaca: true,
			EnableIthacaToSepolia: true,
			SepoliaToIthaca: Direction{
				MinAmount:           0.0001,
				MaxAmount:           0.001,
				WaitForConfirmation: true,
				MaxWaitTime:         300000,
				PollInterval:        30000,
			},
			IthacaToSepolia: Direction{
				MinAmount:    0.0001,
				MaxAmount:    0.001,
				MaxWaitTime:  300000,
				PollInterval: 30000,
			},
			GasPriceMultiplier: 1.1,
			MaxRetries:         3,
		},
	}
}

// Load reads the config at path, or the first of FileNames found in dir when
// path is empty. Keys missing from the file keep their defaults. No file at
// all yields the defaults.
func Load(path, dir string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		log.Warn().Msg("no configuration file found, using defaults")
		return cfg, nil
	}

	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("config_file", path).Msg("configuration file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at: %s, %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(buf, cfg)
	} else {
		err = yaml.Unmarshal(buf, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file at: %s, %w", path, err)
	}
	if err := checkConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	log.Debug().Str("config_file", path).Msg("loaded configuration")
	return cfg, nil
}

func checkConfig(cfg *Config) error {
	if cfg.GasPriceMultiplier <= 0 {
		return fmt.Errorf("gas_price_multiplier must be positive")
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if cfg.BaseWaitTime < 0 {
		return fmt.Errorf("base_wait_time must not be negative")
	}
	if cfg.TransferAmountPercentage <= 0 || cfg.TransferAmountPercentage > 100 {
		return fmt.Errorf("transfer_amount_percentage must be in (0, 100]")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if cfg.RPCRateLimit < 0 {
		return fmt.Errorf("rpc_rate_limit must not be negative")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if cfg.CycleCooldownHours < 0 {
		return fmt.Errorf("cycle_cooldown_hours must not be negative")
	}
	if cfg.WalletPause.MinSeconds < 0 || cfg.WalletPause.MaxSeconds < cfg.WalletPause.MinSeconds {
		return fmt.Errorf("wallet_pause must satisfy 0 <= min_seconds <= max_seconds")
	}
	for name, c := range map[string]Chain{"sepolia": cfg.Chains.Sepolia, "ithaca": cfg.Chains.Ithaca} {
		if c.RPCURL == "" {
			return fmt.Errorf("chains.%s.rpc_url is required", name)
		}
		if c.ChainID <= 0 {
			return fmt.Errorf("chains.%s.chain_id is required", name)
		}
	}
	if cfg.Bridge.GasPriceMultiplier <= 0 {
		return fmt.Errorf("bridge.gas_price_multiplier must be positive")
	}
	if cfg.Bridge.MaxRetries < 1 {
		return fmt.Errorf("bridge.max_retries must be at least 1")
	}
	for name, d := range map[string]Direction{
		"sepolia_to_ithaca": cfg.Bridge.SepoliaToIthaca,
		"ithaca_to_sepolia": cfg.Bridge.IthacaToSepolia,
	} {
		if d.MinAmount < 0 || d.MaxAmount < d.MinAmount {
			return fmt.Errorf("bridge.%s must satisfy 0 <= min_amount <= max_amount", name)
		}
		if d.MaxWaitTime < 0 {
			return fmt.Errorf("bridge.%s.max_wait_time must not be negative", name)
		}
		if d.PollInterval <= 0 {
			return fmt.Errorf("bridge.%s.poll_interval must be positive", name)
		}
	}
	return nil
}

// Network resolves the configured parameters of chain c.
func (c *Config) Network(chain shared.Chain) shared.Network {
	n := shared.DefaultNetwork(chain)
	cc := c.Chains.Sepolia
	if chain == shared.Ithaca {
		cc = c.Chains.Ithaca
	}
	if cc.RPCURL != "" {
		n.RPCURL = cc.RPCURL
	}
	if cc.ChainID > 0 {
		n.ChainID = big.NewInt(cc.ChainID)
	}
	if cc.ExplorerURL != "" {
		n.ExplorerURL = cc.ExplorerURL
	}
	return n
}

// RequestPolicy drives the HTTP and RPC retry layer.
func (c *Config) RequestPolicy() retry.Policy {
	return retry.NewPolicy(seconds(c.BaseWaitTime), c.MaxRetries)
}

// TransferPolicy drives whole self-transfer retries: roughly 1s, 2s, 4s
// between max_retries attempts.
func (c *Config) TransferPolicy() retry.Policy {
	return retry.NewPolicy(time.Second, c.MaxRetries)
}

// BridgePolicy drives whole-direction bridge retries.
func (c *Config) BridgePolicy() retry.Policy {
	return retry.NewPolicy(2*time.Second, c.Bridge.MaxRetries)
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return seconds(c.RequestTimeout)
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CycleCooldownHours * float64(time.Hour))
}

func (p Pause) Bounds() (time.Duration, time.Duration) {
	return seconds(p.MinSeconds), seconds(p.MaxSeconds)
}

func (d Direction) MaxWait() time.Duration {
	return time.Duration(d.MaxWaitTime) * time.Millisecond
}

func (d Direction) Interval() time.Duration {
	return time.Duration(d.PollInterval) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

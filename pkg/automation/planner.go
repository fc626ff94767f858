package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"testnet-automation/pkg/config"
	"testnet-automation/pkg/proxy"
	"testnet-automation/pkg/runner"
	"testnet-automation/pkg/shared"
	"testnet-automation/pkg/telemetry"

	"github.com/rs/zerolog"
)

type Options struct {
	// ConfigPath is an explicit config file. When empty the FileNames of
	// package config are searched in ConfigDir.
	ConfigPath  string
	ConfigDir   string
	KeysPath    string
	ProxiesPath string
	// LogLevel, when set, takes precedence over log_level in the config.
	LogLevel string
	Recorder *telemetry.Recorder
}

// Automation rebuilds its stack from the files on disk at the start of
// every cycle.
type Automation struct {
	opts Options

	mu      sync.Mutex
	current *Stack
	// lastGood is the most recent config that loaded cleanly.
	lastGood *config.Config
}

func New(opts Options) *Automation {
	return &Automation{opts: opts}
}

// Plan implements runner.Planner. Only an unusable key list fails it; a
// broken config falls back to the last one that loaded, or the defaults.
func (a *Automation) Plan(ctx context.Context) (*runner.Plan, error) {
	cfg := a.loadConfig(ctx)
	if a.opts.LogLevel == "" {
		lvl, _ := zerolog.ParseLevel(cfg.LogLevel)
		zerolog.SetGlobalLevel(lvl)
	}

	keys, err := LoadKeys(a.opts.KeysPath)
	if err != nil {
		return nil, err
	}
	pool, err := proxy.Load(a.opts.ProxiesPath)
	if err != nil {
		return nil, err
	}

	stack, err := Build(ctx, cfg, pool, a.opts.Recorder)
	if err != nil {
		return nil, err
	}
	a.swap(stack)

	pauseMin, pauseMax := cfg.WalletPause.Bounds()
	return &runner.Plan{
		Keys:       keys,
		Network:    stack.Networks[shared.Ithaca],
		Operations: stack.Operations(),
		PauseMin:   pauseMin,
		PauseMax:   pauseMax,
		Cooldown:   cfg.Cooldown(),
	}, nil
}

// Close releases the stack of the last cycle.
func (a *Automation) Close() {
	a.swap(nil)
}

func (a *Automation) loadConfig(ctx context.Context) *config.Config {
	cfg, err := config.Load(a.opts.ConfigPath, a.opts.ConfigDir)
	if err == nil {
		a.lastGood = cfg
		return cfg
	}
	logger := zerolog.Ctx(ctx)
	if a.lastGood != nil {
		logger.Error().Err(err).Msg("failed to load configuration, keeping the previous one")
		return a.lastGood
	}
	logger.Error().Err(err).Msg("failed to load configuration, using defaults")
	return config.Default()
}

func (a *Automation) swap(s *Stack) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.current.Close()
	}
	a.current = s
}

// LoadKeys reads the private key list. Unlike the proxy list it is
// required and must not be empty.
func LoadKeys(path string) ([]string, error) {
	keys, err := shared.ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, errors.New("no private keys found in " + path)
	}
	return keys, nil
}

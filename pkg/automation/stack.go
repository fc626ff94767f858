// Package automation assembles the chain clients, transactors and
// operations described by a config into runnable cycles.
package automation

import (
	"context"
	"errors"
	"fmt"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/bridge"
	"testnet-automation/pkg/config"
	"testnet-automation/pkg/httpclient"
	"testnet-automation/pkg/proxy"
	"testnet-automation/pkg/quote"
	"testnet-automation/pkg/runner"
	"testnet-automation/pkg/shared"
	"testnet-automation/pkg/telemetry"
	"testnet-automation/pkg/transactor"
	"testnet-automation/pkg/transfer"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Stack is every component built from one config. Close releases the
// chain connections.
type Stack struct {
	Config   *config.Config
	HTTP     *httpclient.Client
	Networks map[shared.Chain]shared.Network
	Clients  map[shared.Chain]*ethclient.Client
	// Transactors use the top-level gas multiplier. The bridge builds its
	// own with the bridge multiplier.
	Transactors map[shared.Chain]*transactor.Transactor
	Transfer    *transfer.Transfer
	Bridge      *bridge.Orchestrator

	// chainErrs holds chains that could not be dialled or reported the
	// wrong chain id. Operations on them fail for the whole cycle.
	chainErrs map[shared.Chain]error
}

// Build dials both chains through a shared resilient HTTP client and wires
// the operations. A chain that cannot be used does not fail Build; only the
// operations touching it fail.
func Build(ctx context.Context, cfg *config.Config, pool *proxy.Pool, recorder *telemetry.Recorder) (*Stack, error) {
	hc := httpclient.New(httpclient.Config{
		Policy:    cfg.RequestPolicy(),
		Timeout:   cfg.RequestTimeoutDuration(),
		RateLimit: cfg.RPCRateLimit,
		Pool:      pool,
		Recorder:  recorder,
	})

	s := &Stack{
		Config:      cfg,
		HTTP:        hc,
		Networks:    map[shared.Chain]shared.Network{},
		Clients:     map[shared.Chain]*ethclient.Client{},
		Transactors: map[shared.Chain]*transactor.Transactor{},
		chainErrs:   map[shared.Chain]error{},
	}
	bridgeSides := map[shared.Chain]bridge.Side{}
	for _, chain := range []shared.Chain{shared.Sepolia, shared.Ithaca} {
		network := cfg.Network(chain)
		s.Networks[chain] = network
		bridgeSides[chain] = bridge.Side{Network: network}

		client, err := transactor.Dial(ctx, network.RPCURL, hc.HTTPClient())
		if err != nil {
			s.disable(ctx, chain, err)
			continue
		}
		s.Clients[chain] = client
		if err := verifyChain(ctx, client, network); err != nil {
			s.disable(ctx, chain, err)
			continue
		}

		s.Transactors[chain] = transactor.NewTransactor(client, transactor.Options{
			GasPriceMultiplier: cfg.GasPriceMultiplier,
		})
		bridgeSides[chain] = bridge.Side{
			Network: network,
			Transactor: transactor.NewTransactor(client, transactor.Options{
				GasPriceMultiplier: cfg.Bridge.GasPriceMultiplier,
			}),
		}
	}

	directions, err := bridgeDirections(cfg.Bridge)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Transfer = transfer.NewTransfer(s.Networks[shared.Ithaca], s.Transactors[shared.Ithaca], transfer.Options{
		Enabled:    cfg.EnableTransfer,
		Percentage: cfg.TransferAmountPercentage,
		Policy:     cfg.TransferPolicy(),
	})
	s.Bridge = bridge.New(bridge.Options{
		Sepolia:    bridgeSides[shared.Sepolia],
		Ithaca:     bridgeSides[shared.Ithaca],
		Quoter:     quote.NewClient(hc, cfg.Quote.URL, cfg.Quote.Host),
		Policy:     cfg.BridgePolicy(),
		Directions: directions,
	})
	return s, nil
}

func (s *Stack) Close() {
	for _, c := range s.Clients {
		c.Close()
	}
}

// Operations lists the per-wallet operations in execution order.
func (s *Stack) Operations() []runner.Operation {
	var ops []runner.Operation
	if s.Config.CancelStuckTransactions {
		ops = append(ops, runner.Func("cancel_pending", s.CancelPending))
	}
	return append(ops,
		s.guard(s.Transfer, shared.Ithaca),
		s.guard(s.Bridge, shared.Sepolia, shared.Ithaca),
	)
}

// ChainErr reports why chains cannot be used this cycle, or nil.
func (s *Stack) ChainErr(chains ...shared.Chain) error {
	var errs []error
	for _, chain := range chains {
		if err := s.chainErrs[chain]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chain, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Stack) disable(ctx context.Context, chain shared.Chain, err error) {
	zerolog.Ctx(ctx).Error().Err(err).Str("chain", chain.String()).
		Msg("chain unavailable, its operations will fail this cycle")
	s.chainErrs[chain] = err
}

// guard makes op fail without side effects while any of chains is unusable.
func (s *Stack) guard(op runner.Operation, chains ...shared.Chain) runner.Operation {
	if s.ChainErr(chains...) == nil {
		return op
	}
	return runner.Func(op.Name(), func(context.Context, runner.Wallet) error {
		return s.ChainErr(chains...)
	})
}

// CancelPending clears stuck transactions of w on both chains.
func (s *Stack) CancelPending(ctx context.Context, w runner.Wallet) error {
	var errs []error
	for _, chain := range []shared.Chain{shared.Sepolia, shared.Ithaca} {
		if err := s.ChainErr(chain); err != nil {
			errs = append(errs, err)
			continue
		}
		acc := w.Account.For(s.Networks[chain])
		if err := s.Transactors[chain].CancelPending(ctx, acc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chain, err))
		}
	}
	return errors.Join(errs...)
}

// Account resolves key on chain.
func (s *Stack) Account(key string, chain shared.Chain) (*account.Account, error) {
	return account.FromPrivateKey(key, s.Networks[chain])
}

func verifyChain(ctx context.Context, client *ethclient.Client, network shared.Network) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("chain", network.Chain.String()).
			Msg("could not verify chain id, continuing")
		return nil
	}
	if chainID.Cmp(network.ChainID) != 0 {
		return fmt.Errorf("%w: %s rpc reports chain id %s, expected %s",
			account.ErrChainMismatch, network.Chain, chainID, network.ChainID)
	}
	zerolog.Ctx(ctx).Debug().Str("chain", network.Chain.String()).Str("chain_id", chainID.String()).
		Msg("connected to chain")
	return nil
}

func bridgeDirections(cfg config.Bridge) (map[bridge.Direction]bridge.DirectionConfig, error) {
	out := map[bridge.Direction]bridge.DirectionConfig{}
	for d, dc := range map[bridge.Direction]struct {
		enabled bool
		cfg     config.Direction
	}{
		bridge.SepoliaToIthaca: {cfg.EnableSepoliaToIthaca, cfg.SepoliaToIthaca},
		bridge.IthacaToSepolia: {cfg.EnableIthacaToSepolia, cfg.IthacaToSepolia},
	} {
		min, err := shared.ToWei(dc.cfg.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("bridge.%s.min_amount: %w", d, err)
		}
		max, err := shared.ToWei(dc.cfg.MaxAmount)
		if err != nil {
			return nil, fmt.Errorf("bridge.%s.max_amount: %w", d, err)
		}
		out[d] = bridge.DirectionConfig{
			Enabled:             dc.enabled,
			MinAmount:           min,
			MaxAmount:           max,
			WaitForConfirmation: dc.cfg.WaitForConfirmation,
			MaxWait:             dc.cfg.MaxWait(),
			PollInterval:        dc.cfg.Interval(),
		}
	}
	return out, nil
}

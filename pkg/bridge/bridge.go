// Package bridge moves native ETH between Sepolia and Ithaca using routes
// quoted by the Superbridge API. Each direction is an independent state
// machine wrapped in a whole-attempt retry loop.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/quote"
	"testnet-automation/pkg/retry"
	"testnet-automation/pkg/shared"
	"testnet-automation/pkg/transactor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var ErrNoRoute = errors.New("no bridge route found")

// DirectionConfig bounds one direction. Amounts are in wei.
type DirectionConfig struct {
	Enabled             bool
	MinAmount           *big.Int
	MaxAmount           *big.Int
	WaitForConfirmation bool
	MaxWait             time.Duration
	PollInterval        time.Duration
}

// Side is one chain the orchestrator can send from and observe.
type Side struct {
	Network    shared.Network
	Transactor *transactor.Transactor
}

type Options struct {
	Sepolia Side
	Ithaca  Side
	Quoter  quote.Quoter
	Policy  retry.Policy
	// Directions not present are disabled.
	Directions map[Direction]DirectionConfig
	Rand       *rand.Rand
}

// Outcome reports how a direction ended. Benign no-ops are Done with a
// Reason and no Err.
type Outcome struct {
	Direction Direction
	State     State
	Trace     []State
	Skipped   bool
	Reason    string
	Amount    *big.Int
	TxHash    common.Hash
	TimedOut  bool
	Attempts  int
	Err       error
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

type Orchestrator struct {
	sides      map[shared.Chain]Side
	quoter     quote.Quoter
	policy     retry.Policy
	directions map[Direction]DirectionConfig
	rnd        *rand.Rand
}

func New(opts Options) *Orchestrator {
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Orchestrator{
		sides: map[shared.Chain]Side{
			shared.Sepolia: opts.Sepolia,
			shared.Ithaca:  opts.Ithaca,
		},
		quoter:     opts.Quoter,
		policy:     opts.Policy,
		directions: opts.Directions,
		rnd:        rnd,
	}
}

// BridgeAll attempts every direction in order. A failed direction does not stop
// the next one.
func (o *Orchestrator) BridgeAll(ctx context.Context, acc *account.Account) []Outcome {
	outcomes := make([]Outcome, 0, len(Directions))
	for _, d := range Directions {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, o.Bridge(ctx, acc, d))
	}
	return outcomes
}

// Bridge drives one direction to Done or Failed.
func (o *Orchestrator) Bridge(ctx context.Context, acc *account.Account, d Direction) Outcome {
	logger := zerolog.Ctx(ctx).With().Str("direction", d.String()).Logger()
	ctx = logger.WithContext(ctx)

	cfg, ok := o.directions[d]
	if !ok || !cfg.Enabled {
		logger.Warn().Msgf("%s to %s bridging disabled in config", d.Source(), d.Destination())
		out := Outcome{Direction: d, Skipped: true, Reason: "disabled"}
		out.enter(Idle)
		return out
	}

	logger.Info().Msgf("bridging ETH from %s to %s", d.Source(), d.Destination())
	var last Outcome
	res := retry.Do(ctx, o.policy, func(ctx context.Context, attempt int) (Outcome, error) {
		zerolog.Ctx(ctx).Info().Int("attempt", attempt+1).Int("max_attempts", o.policy.MaxAttempts).
			Msg("attempting bridge")
		last = Outcome{Direction: d}
		err := o.attempt(ctx, acc, d, cfg, &last)
		return last, err
	})

	out := res.Value
	if !res.OK {
		out = last
		out.Err = res.Err
		out.enter(Failed)
		logger.Error().Err(res.Err).Int("attempts", res.Attempts).
			Msgf("failed to bridge from %s to %s", d.Source(), d.Destination())
	}
	out.Attempts = res.Attempts
	return out
}

func (o *Orchestrator) attempt(
	ctx context.Context,
	acc *account.Account,
	d Direction,
	cfg DirectionConfig,
	out *Outcome,
) error {
	logger := zerolog.Ctx(ctx)
	src, dst := o.sides[d.Source()], o.sides[d.Destination()]
	signer := acc.For(src.Network)
	out.enter(Idle)

	balance, err := src.Transactor.Balance(ctx, signer.Address())
	if err != nil {
		return err
	}
	logger.Info().Str("balance", shared.FormatEther(balance)).Msgf("%s balance", d.Source())
	if balance.Sign() == 0 {
		logger.Warn().Msgf("no %s ETH to bridge", d.Source())
		return benign(out, "no balance")
	}

	amount := SizeAmount(o.rnd, balance, cfg.MinAmount, cfg.MaxAmount)
	if amount.Sign() <= 0 {
		logger.Warn().Msg("bridge amount too small")
		return benign(out, "amount too small")
	}
	out.Amount = amount
	logger.Info().Str("amount", shared.FormatEther(amount)).Msg("will bridge")

	out.enter(RouteRequested)
	routes, err := o.quoter.Routes(ctx, quote.Request{
		Amount:       amount,
		FromChainID:  src.Network.ChainID,
		ToChainID:    dst.Network.ChainID,
		Sender:       signer.Address(),
		Recipient:    signer.Address(),
		FromGasPrice: gasHint(ctx, src),
		ToGasPrice:   gasHint(ctx, dst),
	})
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return retry.Permanent(ErrNoRoute)
	}
	route := routes[0]
	if err := route.Validate(); err != nil {
		return retry.Permanent(err)
	}
	if route.ChainID.Cmp(src.Network.ChainID) != 0 {
		return retry.Permanent(fmt.Errorf("%w: route chain %s, source chain %s",
			account.ErrChainMismatch, route.ChainID, src.Network.ChainID))
	}
	out.enter(RouteSelected)

	req, err := src.Transactor.Build(ctx, signer, *route.To, route.Value, route.Data)
	if errors.Is(err, transactor.ErrInsufficientFunds) {
		logger.Warn().Err(err).Msg("cannot cover bridge transaction")
		return benign(out, "insufficient funds")
	}
	if err != nil {
		return err
	}
	out.enter(TxBuilt)
	logger.Info().Str("contract", req.To.Hex()).Uint64("gas", req.Gas).Msg("sending bridge transaction")

	receipt, err := src.Transactor.Submit(ctx, signer, req)
	if err != nil {
		if errors.Is(err, transactor.ErrReceiptTimeout) || errors.Is(err, account.ErrChainMismatch) {
			return retry.Permanent(err)
		}
		return err
	}
	out.TxHash = receipt.TxHash
	out.enter(TxSubmitted)
	logger.Info().Str("status", "success").Str("tx", receipt.TxHash.Hex()).
		Str("explorer", src.Network.TxURL(receipt.TxHash)).Msg("bridge transaction sent")

	if !cfg.WaitForConfirmation {
		logger.Info().Msgf("bridge initiated, funds will arrive on %s later", d.Destination())
		out.enter(Done)
		return nil
	}

	out.enter(ConfirmationPolling)
	arrived, err := awaitArrival(ctx, dst.Transactor, signer.Address(), cfg.PollInterval, cfg.MaxWait)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		out.TimedOut = true
		logger.Warn().Msg("timed out waiting for bridge confirmation, the funds may arrive later")
	} else {
		logger.Info().Str("status", "success").Str("balance", shared.FormatEther(arrived)).
			Msgf("ETH received on %s", d.Destination())
	}
	out.enter(Done)
	return nil
}

func benign(out *Outcome, reason string) error {
	out.Reason = reason
	out.enter(Done)
	return nil
}

// gasHint is the unscaled gas price of a side, or nil to let the quote
// client fall back to its defaults.
func gasHint(ctx context.Context, s Side) *big.Int {
	price, err := s.Transactor.Client().SuggestGasPrice(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("chain", s.Network.Chain.String()).
			Msg("could not get gas price, using default hint")
		return nil
	}
	return price
}

// Package runner processes wallets one at a time, forever. Each wallet runs
// a fixed list of operations; a failing operation is logged and the next
// one still runs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/shared"
	"testnet-automation/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Wallet is the unit of work handed to operations. Account is bound to the
// plan's default network; operations rebind it with Account.For.
type Wallet struct {
	Index   int
	Account *account.Account
}

type Operation interface {
	Name() string
	Run(ctx context.Context, w Wallet) error
}

type funcOperation struct {
	name string
	fn   func(ctx context.Context, w Wallet) error
}

func (f funcOperation) Name() string                            { return f.name }
func (f funcOperation) Run(ctx context.Context, w Wallet) error { return f.fn(ctx, w) }

// Func adapts fn to an Operation.
func Func(name string, fn func(ctx context.Context, w Wallet) error) Operation {
	return funcOperation{name: name, fn: fn}
}

// Plan is everything one cycle needs. It is rebuilt before every cycle so
// edits to config, key and proxy files take effect without a restart.
type Plan struct {
	Keys       []string
	Network    shared.Network
	Operations []Operation
	PauseMin   time.Duration
	PauseMax   time.Duration
	Cooldown   time.Duration
}

// Planner builds the plan for the next cycle. An error ends the run.
type Planner func(ctx context.Context) (*Plan, error)

// WaitFunc suspends for d, returning early with ctx's error.
type WaitFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	Planner  Planner
	Recorder *telemetry.Recorder
	Rand     *rand.Rand
	// Pause is used between wallets and Cooldown between cycles. Both
	// default to shared.Sleep.
	Pause    WaitFunc
	Cooldown WaitFunc
}

type Runner struct {
	planner  Planner
	recorder *telemetry.Recorder
	rnd      *rand.Rand
	pause    WaitFunc
	cooldown WaitFunc
}

func NewRunner(opts Options) *Runner {
	r := &Runner{
		planner:  opts.Planner,
		recorder: opts.Recorder,
		rnd:      opts.Rand,
		pause:    opts.Pause,
		cooldown: opts.Cooldown,
	}
	if r.rnd == nil {
		r.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if r.pause == nil {
		r.pause = shared.Sleep
	}
	if r.cooldown == nil {
		r.cooldown = shared.Sleep
	}
	return r
}

// Run executes cycles until ctx is cancelled, which is not an error. A
// planning failure is returned.
func (r *Runner) Run(ctx context.Context) error {
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return nil
		}
		plan, err := r.planner(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to plan cycle %d: %w", cycle, err)
		}

		id := uuid.NewString()
		logger := log.With().Str("cycle", id).Logger()
		cctx := logger.WithContext(ctx)
		logger.Info().Int("number", cycle).Int("wallets", len(plan.Keys)).Msg("starting cycle")

		processed := r.RunCycle(cctx, plan)
		r.recorder.CycleCompleted(processed)
		if ctx.Err() != nil {
			return nil
		}
		logger.Info().Str("status", "success").Int("wallets", processed).Dur("cooldown", plan.Cooldown).
			Msg("all wallets processed, cooling down")

		if err := r.cooldown(cctx, plan.Cooldown); err != nil {
			return nil
		}
	}
}

// RunCycle processes every wallet of plan in order and returns how many
// were processed.
func (r *Runner) RunCycle(ctx context.Context, plan *Plan) int {
	base := zerolog.Ctx(ctx)
	processed := 0
	for i, key := range plan.Keys {
		if ctx.Err() != nil {
			break
		}
		logger := base.With().Int("wallet", i+1).Logger()
		wctx := logger.WithContext(ctx)

		acc, err := account.FromPrivateKey(key, plan.Network)
		if err != nil {
			logger.Error().Err(err).Msg("failed to resolve wallet address, skipping")
			r.recorder.Operation("address", "error")
		} else {
			logger = logger.With().Str("address", acc.Address().Hex()).Logger()
			wctx = logger.WithContext(ctx)
			logger.Info().Msgf("processing wallet %d/%d", i+1, len(plan.Keys))
			r.runWallet(wctx, plan.Operations, Wallet{Index: i, Account: acc})
		}
		processed++

		if i < len(plan.Keys)-1 {
			d := r.pauseDuration(plan.PauseMin, plan.PauseMax)
			logger.Info().Dur("pause", d).Msg("waiting before next wallet")
			if err := r.pause(ctx, d); err != nil {
				break
			}
		}
	}
	return processed
}

func (r *Runner) runWallet(ctx context.Context, ops []Operation, w Wallet) {
	for _, op := range ops {
		if ctx.Err() != nil {
			return
		}
		logger := zerolog.Ctx(ctx).With().Str("op", op.Name()).Logger()
		err := runOperation(logger.WithContext(ctx), op, w)
		var perr *panicError
		switch {
		case err == nil:
			r.recorder.Operation(op.Name(), "success")
		case errors.Is(err, context.Canceled):
			return
		case errors.As(err, &perr):
			r.recorder.Operation(op.Name(), "panic")
			logger.Error().Err(err).Str("stack", perr.stack).Msg("operation panicked")
		default:
			r.recorder.Operation(op.Name(), "error")
			logger.Error().Err(err).Msg("operation failed")
		}
	}
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func runOperation(ctx context.Context, op Operation, w Wallet) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: string(debug.Stack())}
		}
	}()
	return op.Run(ctx, w)
}

func (r *Runner) pauseDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.rnd.Int63n(int64(max-min)+1))
}

package bridge

import (
	"context"
	"errors"
	"fmt"

	"testnet-automation/pkg/runner"

	"github.com/rs/zerolog"
)

func (o *Orchestrator) Name() string { return "bridge" }

// Run bridges every direction for w. It fails if any direction failed.
func (o *Orchestrator) Run(ctx context.Context, w runner.Wallet) error {
	zerolog.Ctx(ctx).Info().Msg("starting bridge operations")
	var errs []error
	for _, out := range o.BridgeAll(ctx, w.Account) {
		if out.State == Failed {
			errs = append(errs, fmt.Errorf("%s: %w", out.Direction, out.Err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("status", "success").Msg("bridge operations completed")
	return nil
}

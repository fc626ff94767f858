package bridge

import (
	"context"
	"errors"
	"math/big"
	"time"

	"testnet-automation/pkg/transactor"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const DefaultPollInterval = 30 * time.Second

var errNotArrived = errors.New("no balance on destination yet")

// awaitArrival polls the destination balance of addr every interval until
// it is positive or maxWait has elapsed.
func awaitArrival(
	ctx context.Context,
	dst *transactor.Transactor,
	addr common.Address,
	interval, maxWait time.Duration,
) (*big.Int, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = interval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	// zero would mean no bound
	b.MaxElapsedTime = maxWait
	if maxWait <= 0 {
		b.MaxElapsedTime = time.Nanosecond
	}

	logger := zerolog.Ctx(ctx)
	return backoff.RetryWithData(func() (*big.Int, error) {
		bal, err := dst.Balance(ctx, addr)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to check destination balance")
			return nil, err
		}
		if bal.Sign() > 0 {
			return bal, nil
		}
		logger.Info().Dur("retry_in", interval).Msg("no ETH received yet")
		return nil, errNotArrived
	}, backoff.WithContext(b, ctx))
}

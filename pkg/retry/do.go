package retry

import (
	"context"
	"errors"
	"fmt"

	"testnet-automation/pkg/shared"

	"github.com/rs/zerolog"
)

var ErrExhausted = errors.New("retry attempts exhausted")

// Result is the uniform envelope returned by Do. OK is false when the
// operation never succeeded; Err then holds the last failure.
type Result[T any] struct {
	Value    T
	OK       bool
	Err      error
	Attempts int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a permanent error, the context is
// cancelled, or p.MaxAttempts attempts have been made.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) Result[T] {
	logger := zerolog.Ctx(ctx)
	max := p.attempts()
	var res Result[T]
	for attempt := 0; attempt < max; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		res.Attempts = attempt + 1
		v, err := op(ctx, attempt)
		if err == nil {
			res.Value, res.OK, res.Err = v, true, nil
			return res
		}
		res.Err = err
		if IsPermanent(err) {
			return res
		}
		if attempt == max-1 {
			break
		}
		wait := p.Delay(attempt)
		logger.Warn().Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", max).
			Dur("retry_in", wait).
			Msg("attempt failed, retrying")
		if err := shared.Sleep(ctx, wait); err != nil {
			res.Err = err
			return res
		}
	}
	res.Err = fmt.Errorf("%w after %d attempts: %w", ErrExhausted, res.Attempts, res.Err)
	return res
}

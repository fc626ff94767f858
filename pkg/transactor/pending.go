package transactor

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/shared"

	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog"
)

const maxReplaceAttempts = 5

// CancelPending replaces every pending transaction of acc with a zero value
// self-transfer, bumping the gas price by 10% whenever the node rejects the
// replacement as underpriced. It then waits until no transaction is pending.
func (t *Transactor) CancelPending(ctx context.Context, acc *account.Account) error {
	logger := zerolog.Ctx(ctx)
	from := acc.Address()

	pendingNonce, latestNonce, err := t.nonces(ctx, acc)
	if err != nil {
		return err
	}
	logger.Debug().Uint64("pending", pendingNonce).Uint64("latest", latestNonce).Msg("account nonces")
	if pendingNonce <= latestNonce {
		logger.Debug().Msg("no pending transactions to cancel")
		return nil
	}

	suggested, err := t.GasPrice(ctx)
	if err != nil {
		return err
	}

	for nonce := latestNonce; nonce < pendingNonce; nonce++ {
		gasPrice := new(big.Int).Set(suggested)
		for attempt := 0; attempt < maxReplaceAttempts; attempt++ {
			if attempt > 0 {
				increase := new(big.Int).Quo(gasPrice, big.NewInt(10))
				gasPrice.Add(gasPrice, increase)
				gasPrice.Add(gasPrice, big.NewInt(1))
			}
			req := &Request{
				From:     from,
				To:       from,
				Value:    new(big.Int),
				Gas:      params.TxGas,
				GasPrice: new(big.Int).Set(gasPrice),
				Nonce:    nonce,
				ChainID:  acc.Network().ChainID,
			}
			signed, err := acc.SignTx(req.transaction())
			if err != nil {
				return fmt.Errorf("failed to sign cancellation for nonce %d: %w", nonce, err)
			}
			err = t.client.SendTransaction(ctx, signed)
			if err != nil {
				if replaceable(err) {
					logger.Warn().Err(err).Uint64("nonce", nonce).Int("attempt", attempt+1).
						Msg("cancellation rejected, increasing gas price")
					continue
				}
				return fmt.Errorf("failed to send cancellation for nonce %d: %w", nonce, err)
			}
			logger.Info().Uint64("nonce", nonce).Str("hash", signed.Hash().Hex()).
				Str("gas_price", gasPrice.String()).Msg("sent cancellation transaction")
			break
		}
	}

	idx := 0
	timeoutCount := t.pollLimit()
	for {
		if idx >= timeoutCount {
			return fmt.Errorf("%w: pending transactions still present", ErrReceiptTimeout)
		}
		pending, latest, err := t.nonces(ctx, acc)
		if err != nil {
			return err
		}
		if pending <= latest {
			logger.Info().Msg("all pending transactions cancelled")
			return nil
		}
		idx++
		if err := shared.Sleep(ctx, t.receiptInterval); err != nil {
			return err
		}
	}
}

func (t *Transactor) nonces(ctx context.Context, acc *account.Account) (pending, latest uint64, err error) {
	pending, err = t.client.PendingNonceAt(ctx, acc.Address())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	latest, err = t.client.NonceAt(ctx, acc.Address(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get latest nonce: %w", err)
	}
	return pending, latest, nil
}

func replaceable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}

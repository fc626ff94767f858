// Package transfer sweeps part of a wallet's Ithaca balance back to itself.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/retry"
	"testnet-automation/pkg/runner"
	"testnet-automation/pkg/shared"
	"testnet-automation/pkg/transactor"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

type Options struct {
	Enabled    bool
	Percentage int64
	// Policy retries the whole transfer. The zero Policy makes one attempt.
	Policy retry.Policy
}

// Transfer is the self-transfer operation.
type Transfer struct {
	network    shared.Network
	transactor *transactor.Transactor
	opts       Options
}

func NewTransfer(network shared.Network, t *transactor.Transactor, opts Options) *Transfer {
	return &Transfer{network: network, transactor: t, opts: opts}
}

func (t *Transfer) Name() string { return "transfer" }

// sent is what one successful attempt produced. A nil receipt means the
// attempt found nothing worth sending.
type sent struct {
	req     *transactor.Request
	receipt *types.Receipt
}

// Run sends Percentage percent of the balance, less gas, to the wallet's own
// address. An empty or dust balance is not an error. Each attempt reads the
// balance and nonce again.
func (t *Transfer) Run(ctx context.Context, w runner.Wallet) error {
	logger := zerolog.Ctx(ctx)
	if !t.opts.Enabled {
		logger.Warn().Msg("ETH transfer disabled in config")
		return nil
	}
	acc := w.Account.For(t.network)
	logger.Info().Msg("transferring ETH to self")

	res := retry.Do(ctx, t.opts.Policy, func(ctx context.Context, attempt int) (sent, error) {
		return t.attempt(ctx, acc)
	})
	if !res.OK {
		return fmt.Errorf("failed to send self transfer: %w", res.Err)
	}
	if res.Value.receipt == nil {
		return nil
	}
	logger.Info().
		Str("status", "success").
		Str("amount", shared.FormatEther(res.Value.req.Value)).
		Str("tx", res.Value.receipt.TxHash.Hex()).
		Str("explorer", t.network.TxURL(res.Value.receipt.TxHash)).
		Int("attempts", res.Attempts).
		Msg("transferred ETH to self")
	return nil
}

func (t *Transfer) attempt(ctx context.Context, acc *account.Account) (sent, error) {
	logger := zerolog.Ctx(ctx)

	balance, err := t.transactor.Balance(ctx, acc.Address())
	if err != nil {
		return sent{}, err
	}
	if balance.Sign() == 0 {
		logger.Warn().Msg("no balance to transfer")
		return sent{}, nil
	}
	logger.Info().Str("balance", shared.FormatEther(balance)).Msg("current balance")

	req, err := t.transactor.BuildSelfTransfer(ctx, acc, t.opts.Percentage)
	if errors.Is(err, transactor.ErrInsufficientFunds) {
		logger.Warn().Err(err).Msg("transfer amount too small")
		return sent{}, nil
	}
	if err != nil {
		return sent{}, fmt.Errorf("failed to build self transfer: %w", err)
	}
	logger.Info().Str("amount", shared.FormatEther(req.Value)).Msg("sending self transfer")

	receipt, err := t.transactor.Submit(ctx, acc, req)
	switch {
	case errors.Is(err, transactor.ErrReceiptTimeout), errors.Is(err, account.ErrChainMismatch):
		// the transaction may still land, or can never be signed here
		return sent{}, retry.Permanent(err)
	case err != nil:
		return sent{}, err
	}
	return sent{req: req, receipt: receipt}, nil
}

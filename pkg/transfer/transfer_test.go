package transfer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/retry"
	"testnet-automation/pkg/runner"
	"testnet-automation/pkg/shared"
	"testnet-automation/pkg/transactor"
	"testnet-automation/pkg/transactor/transactortest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func setup(t *testing.T, balance int64, opts Options) (*Transfer, *transactortest.Client, runner.Wallet) {
	t.Helper()
	// wallets arrive bound to another network; the operation rebinds them
	acc, err := account.FromPrivateKey(testKey, shared.DefaultNetwork(shared.Sepolia))
	require.NoError(t, err)
	client := transactortest.NewClient(shared.IthacaChainID)
	client.SetBalance(acc.Address(), big.NewInt(balance))
	tr := transactor.NewTransactor(client, transactor.Options{
		GasPriceMultiplier: 1.1,
		ReceiptInterval:    time.Millisecond,
		ReceiptTimeout:     10 * time.Millisecond,
	})
	return NewTransfer(shared.DefaultNetwork(shared.Ithaca), tr, opts), client, runner.Wallet{Account: acc}
}

func TestRun_SendsToSelf(t *testing.T) {
	op, client, w := setup(t, 10_000_000_000_000_000, Options{Enabled: true, Percentage: 90})

	require.NoError(t, op.Run(context.Background(), w))
	sent := client.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, w.Account.Address(), *sent[0].To())
	assert.Equal(t, "0.00897", shared.FormatEther(sent[0].Value()))
	assert.Equal(t, big.NewInt(shared.IthacaChainID), sent[0].ChainId())
}

func TestRun_Disabled(t *testing.T) {
	op, client, w := setup(t, 10_000_000_000_000_000, Options{Enabled: false, Percentage: 90})

	require.NoError(t, op.Run(context.Background(), w))
	assert.Equal(t, 0, client.Calls(""))
}

func TestRun_ZeroAndDustBalanceAreBenign(t *testing.T) {
	for _, bal := range []int64{0, 20_000_000_000_000} {
		op, client, w := setup(t, bal, Options{Enabled: true, Percentage: 90})
		require.NoError(t, op.Run(context.Background(), w))
		assert.Equal(t, 0, client.Calls("SendTransaction"))
	}
}

func TestRun_SendFailureIsReported(t *testing.T) {
	op, client, w := setup(t, 10_000_000_000_000_000, Options{Enabled: true, Percentage: 90})
	client.SendErrs = []error{errors.New("nonce too low")}

	err := op.Run(context.Background(), w)
	assert.ErrorContains(t, err, "nonce too low")
}

func TestRun_RetriesTransientSendFailure(t *testing.T) {
	op, client, w := setup(t, 10_000_000_000_000_000, Options{
		Enabled:    true,
		Percentage: 90,
		Policy:     retry.Policy{MaxAttempts: 3},
	})
	client.SendErrs = []error{errors.New("connection reset by peer")}

	require.NoError(t, op.Run(context.Background(), w))
	assert.Equal(t, 2, client.Calls("SendTransaction"))
	assert.Len(t, client.Sent(), 1)
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	op, client, w := setup(t, 10_000_000_000_000_000, Options{
		Enabled:    true,
		Percentage: 90,
		Policy:     retry.Policy{MaxAttempts: 2},
	})
	client.SendErrs = []error{errors.New("connection reset by peer"), errors.New("connection reset by peer")}

	err := op.Run(context.Background(), w)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 2, client.Calls("SendTransaction"))
}

func TestRun_ReceiptTimeoutIsNotResent(t *testing.T) {
	op, client, w := setup(t, 10_000_000_000_000_000, Options{
		Enabled:    true,
		Percentage: 90,
		Policy:     retry.Policy{MaxAttempts: 3},
	})
	client.Hold = true

	err := op.Run(context.Background(), w)
	assert.ErrorIs(t, err, transactor.ErrReceiptTimeout)
	assert.Equal(t, 1, client.Calls("SendTransaction"))
}

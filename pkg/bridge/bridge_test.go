package bridge

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/quote"
	"testnet-automation/pkg/retry"
	"testnet-automation/pkg/runner"
	"testnet-automation/pkg/shared"
	"testnet-automation/pkg/transactor"
	"testnet-automation/pkg/transactor/transactortest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var bridgeContract = common.HexToAddress("0x9228665c0D8f9Fc36843572bE50B716B81e042BA")

func eth(f float64) *big.Int {
	v, err := shared.ToWei(f)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeQuoter struct {
	mu      sync.Mutex
	calls   int
	reqs    []quote.Request
	respond func(call int, req quote.Request) ([]quote.Route, error)
}

func (q *fakeQuoter) Routes(_ context.Context, req quote.Request) ([]quote.Route, error) {
	q.mu.Lock()
	q.calls++
	call := q.calls
	q.reqs = append(q.reqs, req)
	q.mu.Unlock()
	if q.respond != nil {
		return q.respond(call, req)
	}
	return []quote.Route{validRoute(req)}, nil
}

func (q *fakeQuoter) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func validRoute(req quote.Request) quote.Route {
	to := bridgeContract
	return quote.Route{
		To:      &to,
		Data:    []byte{0xe1, 0x10, 0x13, 0xdd},
		Value:   new(big.Int).Set(req.Amount),
		ChainID: new(big.Int).Set(req.FromChainID),
	}
}

type harness struct {
	acc     *account.Account
	sepolia *transactortest.Client
	ithaca  *transactortest.Client
	quoter  *fakeQuoter
	dirs    map[Direction]DirectionConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	acc, err := account.FromPrivateKey(testKey, shared.DefaultNetwork(shared.Sepolia))
	require.NoError(t, err)
	h := &harness{
		acc:     acc,
		sepolia: transactortest.NewClient(shared.SepoliaChainID),
		ithaca:  transactortest.NewClient(shared.IthacaChainID),
		quoter:  &fakeQuoter{},
		dirs: map[Direction]DirectionConfig{
			SepoliaToIthaca: {Enabled: true, MinAmount: eth(0.0001), MaxAmount: eth(0.001)},
			IthacaToSepolia: {Enabled: true, MinAmount: eth(0.0001), MaxAmount: eth(0.001)},
		},
	}
	h.sepolia.SetBalance(acc.Address(), eth(1))
	h.ithaca.SetBalance(acc.Address(), eth(1))
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	opts := transactor.Options{
		GasPriceMultiplier: 1.1,
		ReceiptInterval:    time.Millisecond,
		ReceiptTimeout:     10 * time.Millisecond,
	}
	return New(Options{
		Sepolia:    Side{Network: shared.DefaultNetwork(shared.Sepolia), Transactor: transactor.NewTransactor(h.sepolia, opts)},
		Ithaca:     Side{Network: shared.DefaultNetwork(shared.Ithaca), Transactor: transactor.NewTransactor(h.ithaca, opts)},
		Quoter:     h.quoter,
		Policy:     retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
		Directions: h.dirs,
		Rand:       rand.New(rand.NewSource(1)),
	})
}

func TestSizeAmount_WithinBoundsAndClamped(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	min, max, balance := eth(0.0001), eth(0.001), eth(0.0005)
	seenLow, seenClamp := false, false
	for i := 0; i < 2000; i++ {
		amount := SizeAmount(rnd, balance, min, max)
		require.True(t, amount.Cmp(min) >= 0, amount)
		require.True(t, amount.Cmp(eth(0.00045)) <= 0, amount)
		require.Zero(t, new(big.Int).Rem(amount, shared.AmountUnit).Sign())
		seenLow = seenLow || amount.Cmp(eth(0.0002)) < 0
		seenClamp = seenClamp || amount.Cmp(eth(0.00045)) == 0
	}
	assert.True(t, seenLow)
	assert.True(t, seenClamp)
}

func TestSizeAmount_DustBalance(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	assert.Zero(t, SizeAmount(rnd, big.NewInt(0), eth(0.0001), eth(0.001)).Sign())
	assert.Zero(t, SizeAmount(rnd, big.NewInt(10_000_000_000), eth(0.0001), eth(0.001)).Sign())
}

func TestBridge_ZeroBalanceIsBenign(t *testing.T) {
	h := newHarness(t)
	h.sepolia.SetBalance(h.acc.Address(), big.NewInt(0))

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	assert.Equal(t, Done, out.State)
	assert.Equal(t, "no balance", out.Reason)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, h.quoter.Calls())
	assert.Equal(t, 0, h.sepolia.Calls("SendTransaction"))
	assert.Equal(t, 0, h.ithaca.Calls(""))
}

func TestBridge_DisabledDirectionMakesNoCalls(t *testing.T) {
	h := newHarness(t)
	h.dirs[IthacaToSepolia] = DirectionConfig{Enabled: false}
	o := h.orchestrator()

	out := o.Bridge(context.Background(), h.acc, IthacaToSepolia)
	assert.True(t, out.Skipped)
	assert.Equal(t, Idle, out.State)
	assert.Equal(t, 0, h.quoter.Calls())
	assert.Equal(t, 0, h.sepolia.Calls(""))
	assert.Equal(t, 0, h.ithaca.Calls(""))

	outcomes := o.BridgeAll(context.Background(), h.acc)
	require.Len(t, outcomes, 2)
	assert.Equal(t, Done, outcomes[0].State)
	assert.NotEqual(t, common.Hash{}, outcomes[0].TxHash)
	assert.True(t, outcomes[1].Skipped)
	assert.Equal(t, 1, h.quoter.Calls())
	assert.Equal(t, 0, h.ithaca.Calls("SendTransaction"))
}

func TestBridge_SubmitsRouteWithoutWaiting(t *testing.T) {
	h := newHarness(t)

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	require.NoError(t, out.Err)
	assert.Equal(t, []State{Idle, RouteRequested, RouteSelected, TxBuilt, TxSubmitted, Done}, out.Trace)
	assert.False(t, out.TimedOut)

	sent := h.sepolia.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, bridgeContract, *sent[0].To())
	assert.Equal(t, out.Amount, sent[0].Value())
	assert.Equal(t, big.NewInt(shared.SepoliaChainID), sent[0].ChainId())
	// estimate of 100_000 plus the 1.5x margin
	assert.Equal(t, uint64(150_000), sent[0].Gas())

	require.Len(t, h.quoter.reqs, 1)
	req := h.quoter.reqs[0]
	assert.Equal(t, big.NewInt(shared.SepoliaChainID), req.FromChainID)
	assert.Equal(t, big.NewInt(shared.IthacaChainID), req.ToChainID)
	assert.Equal(t, h.acc.Address(), req.Sender)
	assert.NotNil(t, req.FromGasPrice)
	assert.NotNil(t, req.ToGasPrice)
}

func TestBridge_WaitsForArrival(t *testing.T) {
	h := newHarness(t)
	h.dirs[SepoliaToIthaca] = DirectionConfig{
		Enabled: true, MinAmount: eth(0.0001), MaxAmount: eth(0.001),
		WaitForConfirmation: true, MaxWait: time.Second, PollInterval: 5 * time.Millisecond,
	}
	h.ithaca.BalanceHook = func(_ common.Address, calls int) *big.Int {
		if calls < 3 {
			return big.NewInt(0)
		}
		return eth(0.0005)
	}

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	require.NoError(t, out.Err)
	assert.Equal(t, Done, out.State)
	assert.Contains(t, out.Trace, ConfirmationPolling)
	assert.False(t, out.TimedOut)
	assert.Equal(t, 3, h.ithaca.Calls("BalanceAt"))
}

func TestBridge_ConfirmationTimeoutIsDone(t *testing.T) {
	h := newHarness(t)
	h.dirs[SepoliaToIthaca] = DirectionConfig{
		Enabled: true, MinAmount: eth(0.0001), MaxAmount: eth(0.001),
		WaitForConfirmation: true, MaxWait: 60 * time.Millisecond, PollInterval: 10 * time.Millisecond,
	}
	h.ithaca.BalanceHook = func(common.Address, int) *big.Int { return big.NewInt(0) }

	start := time.Now()
	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	elapsed := time.Since(start)

	assert.NoError(t, out.Err)
	assert.Equal(t, Done, out.State)
	assert.True(t, out.TimedOut)
	assert.Equal(t, 1, out.Attempts)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, 1, h.sepolia.Calls("SendTransaction"))
}

func TestBridge_NoRouteFails(t *testing.T) {
	h := newHarness(t)
	h.quoter.respond = func(int, quote.Request) ([]quote.Route, error) { return nil, nil }

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	assert.Equal(t, Failed, out.State)
	assert.ErrorIs(t, out.Err, ErrNoRoute)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, h.sepolia.Calls("SendTransaction"))
}

func TestBridge_RetriesTransientQuoteFailure(t *testing.T) {
	h := newHarness(t)
	h.quoter.respond = func(call int, req quote.Request) ([]quote.Route, error) {
		if call == 1 {
			return nil, errors.New("quote service unavailable")
		}
		return []quote.Route{validRoute(req)}, nil
	}

	out := h.orchestrator().Bridge(context.Background(), h.acc, IthacaToSepolia)
	require.NoError(t, out.Err)
	assert.Equal(t, Done, out.State)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 1, h.ithaca.Calls("SendTransaction"))
}

func TestBridge_ExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	h.quoter.respond = func(int, quote.Request) ([]quote.Route, error) {
		return nil, errors.New("quote service unavailable")
	}

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	assert.Equal(t, Failed, out.State)
	assert.ErrorIs(t, out.Err, retry.ErrExhausted)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, h.quoter.Calls())
}

func TestBridge_RejectsRouteForOtherChain(t *testing.T) {
	h := newHarness(t)
	h.quoter.respond = func(_ int, req quote.Request) ([]quote.Route, error) {
		r := validRoute(req)
		r.ChainID = big.NewInt(shared.IthacaChainID)
		return []quote.Route{r}, nil
	}

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	assert.Equal(t, Failed, out.State)
	assert.ErrorIs(t, out.Err, account.ErrChainMismatch)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, h.sepolia.Calls("SendTransaction"))
}

func TestBridge_InvalidRouteFails(t *testing.T) {
	h := newHarness(t)
	h.quoter.respond = func(int, quote.Request) ([]quote.Route, error) {
		return []quote.Route{{}}, nil
	}

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	assert.Equal(t, Failed, out.State)
	assert.ErrorIs(t, out.Err, quote.ErrInvalidRoute)
}

func TestBridge_ReceiptTimeoutIsNotResubmitted(t *testing.T) {
	h := newHarness(t)
	h.sepolia.Hold = true

	out := h.orchestrator().Bridge(context.Background(), h.acc, SepoliaToIthaca)
	assert.Equal(t, Failed, out.State)
	assert.ErrorIs(t, out.Err, transactor.ErrReceiptTimeout)
	assert.Equal(t, 1, h.sepolia.Calls("SendTransaction"))
}

func TestRun_FailureDoesNotBlockOtherDirection(t *testing.T) {
	h := newHarness(t)
	h.quoter.respond = func(_ int, req quote.Request) ([]quote.Route, error) {
		if req.FromChainID.Int64() == shared.SepoliaChainID {
			return nil, nil
		}
		return []quote.Route{validRoute(req)}, nil
	}

	outcomes := h.orchestrator().BridgeAll(context.Background(), h.acc)
	require.Len(t, outcomes, 2)
	assert.Equal(t, Failed, outcomes[0].State)
	assert.Equal(t, Done, outcomes[1].State)
	assert.Equal(t, 1, h.ithaca.Calls("SendTransaction"))
}

func TestBridge_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.orchestrator().Bridge(ctx, h.acc, SepoliaToIthaca)
	assert.Equal(t, Failed, out.State)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 0, h.sepolia.Calls(""))
}

func TestOperation_ReportsFailedDirections(t *testing.T) {
	h := newHarness(t)
	h.quoter.respond = func(_ int, req quote.Request) ([]quote.Route, error) {
		if req.FromChainID.Int64() == shared.IthacaChainID {
			return nil, nil
		}
		return []quote.Route{validRoute(req)}, nil
	}
	o := h.orchestrator()
	assert.Equal(t, "bridge", o.Name())

	err := o.Run(context.Background(), runner.Wallet{Account: h.acc})
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.ErrorContains(t, err, "ithaca_to_sepolia")
	assert.Equal(t, 1, h.sepolia.Calls("SendTransaction"))
}

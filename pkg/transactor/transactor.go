package transactor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"testnet-automation/pkg/account"
	"testnet-automation/pkg/shared"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is a benign outcome: the wallet cannot pay for
	// the transaction and the operation should be skipped.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrReceiptTimeout means the transaction was sent but not observed in
	// a block. It may still land and must not be resubmitted.
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
	ErrReverted       = errors.New("transaction reverted")
)

const (
	DefaultReceiptInterval = 5 * time.Second
	DefaultReceiptTimeout  = 5 * time.Minute
)

// ChainClient is the subset of ethclient.Client used to build and submit
// transactions.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Request is a fully resolved transaction. It is built once and submitted
// at most once; a retry needs a fresh Build since the nonce may have moved.
type Request struct {
	From     common.Address
	To       common.Address
	Data     []byte
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
	Nonce    uint64
	ChainID  *big.Int
}

// Cost is the maximum amount the sender pays: value plus gas at GasPrice.
func (r *Request) Cost() *big.Int {
	cost := new(big.Int).Mul(new(big.Int).SetUint64(r.Gas), r.GasPrice)
	if r.Value != nil {
		cost.Add(cost, r.Value)
	}
	return cost
}

func (r *Request) transaction() *types.Transaction {
	to := r.To
	value := r.Value
	if value == nil {
		value = new(big.Int)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    r.Nonce,
		To:       &to,
		Value:    value,
		Gas:      r.Gas,
		GasPrice: r.GasPrice,
		Data:     r.Data,
	})
}

type Options struct {
	// GasPriceMultiplier scales the suggested gas price. It is applied at
	// two decimal places of precision.
	GasPriceMultiplier float64
	ReceiptInterval    time.Duration
	ReceiptTimeout     time.Duration
}

type Transactor struct {
	client          ChainClient
	multiplierPct   *big.Int
	receiptInterval time.Duration
	receiptTimeout  time.Duration
}

func NewTransactor(client ChainClient, opts Options) *Transactor {
	if opts.GasPriceMultiplier <= 0 {
		opts.GasPriceMultiplier = 1
	}
	if opts.ReceiptInterval <= 0 {
		opts.ReceiptInterval = DefaultReceiptInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = DefaultReceiptTimeout
	}
	return &Transactor{
		client:          client,
		multiplierPct:   decimal.NewFromFloat(opts.GasPriceMultiplier).Shift(2).Floor().BigInt(),
		receiptInterval: opts.ReceiptInterval,
		receiptTimeout:  opts.ReceiptTimeout,
	}
}

func (t *Transactor) Client() ChainClient { return t.client }

func (t *Transactor) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := t.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// GasPrice returns the suggested gas price scaled by the multiplier.
func (t *Transactor) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	price = new(big.Int).Mul(price, t.multiplierPct)
	return price.Quo(price, big.NewInt(100)), nil
}

// Build resolves nonce, gas price and gas limit for a call from acc to to.
// Calls carrying data are simulated and given a 1.5x gas margin; plain
// transfers use the intrinsic transfer cost.
func (t *Transactor) Build(
	ctx context.Context,
	acc *account.Account,
	to common.Address,
	value *big.Int,
	data []byte,
) (*Request, error) {
	if value == nil {
		value = new(big.Int)
	}
	from := acc.Address()

	nonce, err := t.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	gasPrice, err := t.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gas := params.TxGas
	if len(data) > 0 {
		estimated, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &to,
			GasPrice: gasPrice,
			Value:    value,
			Data:     data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gas = estimated * 3 / 2
	}

	req := &Request{
		From:     from,
		To:       to,
		Data:     data,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Nonce:    nonce,
		ChainID:  acc.Network().ChainID,
	}

	balance, err := t.Balance(ctx, from)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(req.Cost()) < 0 {
		return nil, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds,
			shared.FormatEther(balance), shared.FormatEther(req.Cost()))
	}
	return req, nil
}

// BuildSelfTransfer sends pct percent of the balance back to the sender,
// less the gas cost, floored to display precision.
func (t *Transactor) BuildSelfTransfer(ctx context.Context, acc *account.Account, pct int64) (*Request, error) {
	if pct <= 0 || pct > 100 {
		return nil, fmt.Errorf("transfer percentage %d out of range", pct)
	}
	from := acc.Address()

	balance, err := t.Balance(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := t.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	value := new(big.Int).Mul(balance, big.NewInt(pct))
	value.Quo(value, big.NewInt(100))
	value.Sub(value, new(big.Int).Mul(new(big.Int).SetUint64(params.TxGas), gasPrice))
	value = shared.FloorToUnit(value)
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance %s", ErrInsufficientFunds, shared.FormatEther(balance))
	}

	nonce, err := t.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return &Request{
		From:     from,
		To:       from,
		Value:    value,
		Gas:      params.TxGas,
		GasPrice: gasPrice,
		Nonce:    nonce,
		ChainID:  acc.Network().ChainID,
	}, nil
}

// Submit signs req with acc, sends it, and waits for it to be included.
func (t *Transactor) Submit(ctx context.Context, acc *account.Account, req *Request) (*types.Receipt, error) {
	if req.From != acc.Address() {
		return nil, fmt.Errorf("request from %s cannot be signed by %s", req.From.Hex(), acc.Address().Hex())
	}
	if req.ChainID == nil || req.ChainID.Cmp(acc.Network().ChainID) != 0 {
		return nil, fmt.Errorf("%w: request %v, account %s", account.ErrChainMismatch, req.ChainID, acc.Network().ChainID)
	}

	signed, err := acc.SignTx(req.transaction())
	if err != nil {
		return nil, err
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	zerolog.Ctx(ctx).Debug().
		Str("hash", signed.Hash().Hex()).
		Uint64("nonce", req.Nonce).
		Str("gas_price", req.GasPrice.String()).
		Msg("transaction sent")

	return t.WaitForReceipt(ctx, signed.Hash())
}

// WaitForReceipt polls for the receipt of hash until it is found or the
// receipt timeout elapses.
func (t *Transactor) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	logger := zerolog.Ctx(ctx)
	idx := 0
	timeoutCount := t.pollLimit()
	for {
		if idx >= timeoutCount {
			return nil, fmt.Errorf("%w: tx %s not included after %d attempts", ErrReceiptTimeout, hash.Hex(), timeoutCount)
		}
		receipt, err := t.client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: tx %s in block %s", ErrReverted, hash.Hex(), receipt.BlockNumber)
			}
			logger.Debug().Str("hash", hash.Hex()).Str("block", receipt.BlockNumber.String()).
				Msg("transaction included")
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn().Err(err).Str("hash", hash.Hex()).Msg("failed to get transaction receipt")
		}
		idx++
		if err := shared.Sleep(ctx, t.receiptInterval); err != nil {
			return nil, err
		}
	}
}

func (t *Transactor) pollLimit() int {
	if n := int(t.receiptTimeout / t.receiptInterval); n > 0 {
		return n
	}
	return 1
}

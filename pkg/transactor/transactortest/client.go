// Package transactortest provides an in-memory chain for exercising
// transaction building and submission without a node.
package transactortest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client implements transactor.ChainClient. Sent transactions are mined
// immediately unless Hold is set.
type Client struct {
	mu sync.Mutex

	chainID  *big.Int
	balances map[common.Address]*big.Int
	pending  map[common.Address]uint64
	mined    map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	calls    map[string]int

	GasPrice    *big.Int
	GasEstimate uint64
	// Hold keeps sent transactions pending; no receipt is ever produced.
	Hold   bool
	Revert bool
	// SendErrs are returned by successive SendTransaction calls.
	SendErrs    []error
	EstimateErr error
	BalanceErr  error
	// BalanceHook, when set, overrides balance lookups.
	BalanceHook func(addr common.Address, calls int) *big.Int
}

func NewClient(chainID int64) *Client {
	return &Client{
		chainID:     big.NewInt(chainID),
		balances:    map[common.Address]*big.Int{},
		pending:     map[common.Address]uint64{},
		mined:       map[common.Address]uint64{},
		receipts:    map[common.Hash]*types.Receipt{},
		calls:       map[string]int{},
		GasPrice:    big.NewInt(1_000_000_000),
		GasEstimate: 100_000,
	}
}

func (c *Client) SetBalance(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(wei)
}

// SetNonces sets the pending and mined nonce of addr.
func (c *Client) SetNonces(addr common.Address, pending, mined uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[addr] = pending
	c.mined[addr] = mined
}

func (c *Client) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// Calls returns the number of calls made to method, or to any method when
// method is empty.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if method != "" {
		return c.calls[method]
	}
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *Client) record(method string) int {
	c.calls[method]++
	return c.calls[method]
}

func (c *Client) PendingNonceAt(_ context.Context, addr common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("PendingNonceAt")
	return c.pending[addr], nil
}

func (c *Client) NonceAt(_ context.Context, addr common.Address, _ *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("NonceAt")
	return c.mined[addr], nil
}

func (c *Client) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SuggestGasPrice")
	return new(big.Int).Set(c.GasPrice), nil
}

func (c *Client) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("EstimateGas")
	if c.EstimateErr != nil {
		return 0, c.EstimateErr
	}
	return c.GasEstimate, nil
}

func (c *Client) BalanceAt(_ context.Context, addr common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.record("BalanceAt")
	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	if c.BalanceHook != nil {
		return c.BalanceHook(addr, n), nil
	}
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SendTransaction")
	if len(c.SendErrs) > 0 {
		err := c.SendErrs[0]
		c.SendErrs = c.SendErrs[1:]
		if err != nil {
			return err
		}
	}
	from, err := types.Sender(types.NewEIP155Signer(c.chainID), tx)
	if err != nil {
		return err
	}
	if tx.Nonce() < c.mined[from] {
		return errors.New("nonce too low")
	}
	c.sent = append(c.sent, tx)
	if tx.Nonce() >= c.pending[from] {
		c.pending[from] = tx.Nonce() + 1
	}
	if c.Hold {
		return nil
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	cost.Add(cost, tx.Value())
	if bal, ok := c.balances[from]; ok {
		bal.Sub(bal, cost)
		if to := tx.To(); to != nil {
			if _, ok := c.balances[*to]; !ok {
				c.balances[*to] = new(big.Int)
			}
			c.balances[*to].Add(c.balances[*to], tx.Value())
		}
	}
	if tx.Nonce()+1 > c.mined[from] {
		c.mined[from] = tx.Nonce() + 1
	}

	status := types.ReceiptStatusSuccessful
	if c.Revert {
		status = types.ReceiptStatusFailed
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(len(c.sent))),
		GasUsed:     tx.Gas(),
	}
	return nil
}

func (c *Client) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("TransactionReceipt")
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// Mine marks every held transaction of addr as included.
func (c *Client) Mine(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mined[addr] = c.pending[addr]
}

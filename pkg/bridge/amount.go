package bridge

import (
	"math/big"
	"math/rand"

	"testnet-automation/pkg/shared"
)

// SizeAmount draws a uniformly random amount from [min, max] in steps of
// shared.AmountUnit and clamps it to 90% of balance, floored to the same
// step. The result may be zero.
func SizeAmount(rnd *rand.Rand, balance, min, max *big.Int) *big.Int {
	lo := new(big.Int).Quo(shared.RoundToUnit(min), shared.AmountUnit)
	hi := new(big.Int).Quo(shared.RoundToUnit(max), shared.AmountUnit)
	if hi.Cmp(lo) < 0 {
		hi.Set(lo)
	}

	span := new(big.Int).Sub(hi, lo)
	span.Add(span, big.NewInt(1))
	units := new(big.Int).Rand(rnd, span)
	units.Add(units, lo)
	amount := units.Mul(units, shared.AmountUnit)

	limit := new(big.Int).Mul(balance, big.NewInt(9))
	limit = shared.FloorToUnit(limit.Quo(limit, big.NewInt(10)))
	if amount.Cmp(limit) > 0 {
		return limit
	}
	return amount
}

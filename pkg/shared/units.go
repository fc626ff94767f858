package shared

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DisplayDecimals is the precision used for amounts in logs and for
// rounding transfer sizes.
const DisplayDecimals = 5

// AmountUnit is 10^-5 ether expressed in wei.
var AmountUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18-DisplayDecimals), nil)

// ToWei converts a decimal ether amount taken from configuration into wei.
// The conversion goes through the shortest decimal representation of f so
// 0.0001 becomes exactly 10^14 wei.
func ToWei(eth float64) (*big.Int, error) {
	if eth < 0 {
		return nil, fmt.Errorf("negative amount %v", eth)
	}
	return decimal.NewFromFloat(eth).Shift(18).Truncate(0).BigInt(), nil
}

// FormatEther renders wei as ether with DisplayDecimals places.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	return decimal.NewFromBigInt(wei, -18).StringFixed(DisplayDecimals)
}

// FloorToUnit truncates wei down to a multiple of AmountUnit.
func FloorToUnit(wei *big.Int) *big.Int {
	if wei == nil || wei.Sign() <= 0 {
		return new(big.Int)
	}
	q := new(big.Int).Quo(wei, AmountUnit)
	return q.Mul(q, AmountUnit)
}

// RoundToUnit rounds wei half-up to a multiple of AmountUnit.
func RoundToUnit(wei *big.Int) *big.Int {
	if wei == nil || wei.Sign() <= 0 {
		return new(big.Int)
	}
	half := new(big.Int).Rsh(AmountUnit, 1)
	q := new(big.Int).Add(wei, half)
	q.Quo(q, AmountUnit)
	return q.Mul(q, AmountUnit)
}

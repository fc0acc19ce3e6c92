package escrow

import (
	"math/big"
	"time"
)

// PlatformFeePercent is the share of the escrowed amount kept by the platform.
const PlatformFeePercent = 2

const (
	DefaultDisputeWindow    = time.Hour
	DefaultAbandonmentGrace = 48 * time.Hour
	DefaultDeliveryDeadline = 7 * 24 * time.Hour
)

var (
	hundred = big.NewInt(100)
	half    = big.NewInt(50)
	feeRate = big.NewInt(PlatformFeePercent)
)

// PlatformFee returns amount*2/100 rounded half-up.
func PlatformFee(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, feeRate)
	fee.Add(fee, half)
	return fee.Quo(fee, hundred)
}

// LockedAmount returns the part of amount the seller receives on release.
func LockedAmount(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(amount, PlatformFee(amount))
}

// Package commission derives the platform fee, seller net and referral cut of an order price.
package commission

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
)

// MoneyScale is the number of decimal places money is rounded to.
const MoneyScale = 2

var (
	// DefaultPlatformFeeRate is the marketplace cut of every order.
	DefaultPlatformFeeRate = decimal.RequireFromString("0.05")
	// DefaultReferralRate applies when a referral link carries no usable rate.
	DefaultReferralRate = decimal.RequireFromString("0.05")

	one = decimal.NewFromInt(1)
)

// Split is the outcome of applying the platform fee to an order price.
type Split struct {
	Price       decimal.Decimal
	PlatformFee decimal.Decimal
	SellerNet   decimal.Decimal
}

// Policy holds the rates used for splitting. The zero value uses the defaults.
type Policy struct {
	PlatformFeeRate     decimal.Decimal
	DefaultReferralRate decimal.Decimal
}

func (p Policy) feeRate() decimal.Decimal {
	if p.PlatformFeeRate.IsZero() {
		return DefaultPlatformFeeRate
	}
	return p.PlatformFeeRate
}

func (p Policy) referralDefault() decimal.Decimal {
	if !validRate(p.DefaultReferralRate) {
		return DefaultReferralRate
	}
	return p.DefaultReferralRate
}

// Split computes fee and net. The fee is rounded half-up to cents and the net
// is the exact remainder, so fee + net always equals the price.
func (p Policy) Split(price decimal.Decimal) (Split, error) {
	if price.IsNegative() {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
	}
	price = RoundMoney(price)
	fee := RoundMoney(price.Mul(p.feeRate()))
	return Split{
		Price:       price,
		PlatformFee: fee,
		SellerNet:   price.Sub(fee),
	}, nil
}

// ReferralCommission returns price x rate rounded half-up to cents. usedDefault
// is true when the stored rate was missing or invalid and the default applied.
func (p Policy) ReferralCommission(price decimal.Decimal, rate *decimal.Decimal) (amount decimal.Decimal, usedDefault bool) {
	effective, ok := p.EffectiveRate(rate)
	return RoundMoney(RoundMoney(price).Mul(effective)), !ok
}

// EffectiveRate returns the rate to apply for a stored value. The boolean is
// false when the stored value was nil or outside (0, 1).
func (p Policy) EffectiveRate(rate *decimal.Decimal) (decimal.Decimal, bool) {
	if rate == nil || !validRate(*rate) {
		return p.referralDefault(), false
	}
	return *rate, true
}

// ValidateRate rejects referral rates outside the open interval (0, 1).
func ValidateRate(rate decimal.Decimal) error {
	if !validRate(rate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "referral rate must be greater than 0 and less than 1").
			WithDetails(map[string]any{"rate": rate.String()})
	}
	return nil
}

func validRate(rate decimal.Decimal) bool {
	return rate.IsPositive() && rate.LessThan(one)
}

// RoundMoney rounds half-up to cents. Amounts here are never negative, so
// decimal's half-away-from-zero rounding is half-up.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

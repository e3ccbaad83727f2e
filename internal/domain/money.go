package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultCurrencyExponent int32 = 2

// currencyExponents lists ISO 4217 currencies whose minor unit is not 1/100.
var currencyExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

var (
	half = decimal.New(5, -1)

	minInt64 = decimal.NewFromInt(math.MinInt64)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

// ErrAmountOutOfRange is returned when an amount does not fit in int64 minor units.
var ErrAmountOutOfRange = errors.New("amount out of range")

// Money is an integer amount of minor units in a specific currency.
type Money struct {
	Amount   int64  // minor units
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: NormalizeCurrency(currency),
	}
}

// ToDecimal converts the minor units to major units.
func (m Money) ToDecimal() decimal.Decimal {
	return FromMinorUnits(m.Amount, m.Currency)
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(CurrencyExponent(m.Currency)), m.Currency)
}

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// CurrencyExponent returns the number of decimal places used by currency.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[NormalizeCurrency(currency)]; ok {
		return exp
	}
	return defaultCurrencyExponent
}

// ToMinorUnits converts a major-unit amount to integer minor units, rounding
// half-up. The amount must fit in int64 minor units; use MinorUnits for
// amounts that have not been range checked.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	scaled := amount.Shift(CurrencyExponent(currency))
	return roundHalfUp(scaled).IntPart()
}

// MinorUnits is ToMinorUnits that fails with ErrAmountOutOfRange instead of wrapping.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	scaled := roundHalfUp(amount.Shift(CurrencyExponent(currency)))
	if scaled.LessThan(minInt64) || scaled.GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%w: %s %s", ErrAmountOutOfRange, amount.String(), NormalizeCurrency(currency))
	}
	return scaled.IntPart(), nil
}

// AddMinor adds two minor-unit amounts, failing on int64 overflow.
func AddMinor(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOutOfRange, a, b)
	}
	return a + b, nil
}

// FromMinorUnits converts integer minor units back to a major-unit amount. The division is exact.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}

// roundHalfUp rounds towards positive infinity on ties, for negative values too.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}

// FormatAmount renders a major-unit amount with the currency's number of decimals.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(CurrencyExponent(currency))
}

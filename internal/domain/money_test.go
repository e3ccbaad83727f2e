package domain

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(1050, "usd") // 10.50 USD
	assert.Equal(t, "USD", m.Currency)
	assert.Equal(t, "10.5", m.ToDecimal().String())
	assert.Equal(t, "10.50 USD", m.String())
}

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{name: "two_decimals", amount: "100.00", currency: "USD", want: 10_000},
		{name: "rounds_half_up", amount: "0.125", currency: "USD", want: 13},
		{name: "rounds_down", amount: "0.124", currency: "USD", want: 12},
		{name: "zero_decimal_currency", amount: "1500", currency: "JPY", want: 1500},
		{name: "zero_decimal_rounds", amount: "1500.5", currency: "JPY", want: 1501},
		{name: "three_decimal_currency", amount: "1.2345", currency: "KWD", want: 1235},
		{name: "lower_case_code", amount: "33.33", currency: "ngn", want: 3333},
		{name: "negative_half_rounds_up", amount: "-0.005", currency: "USD", want: 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := ToMinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMinorUnits_Range(t *testing.T) {
	got, err := MinorUnits(decimal.RequireFromString("92233720368547758.07"), "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	cases := []struct {
		name     string
		amount   string
		currency string
	}{
		{name: "one_past_max", amount: "92233720368547758.08", currency: "USD"},
		{name: "ten_quintillion_dollars", amount: "10000000000000000000", currency: "USD"},
		{name: "three_decimal_currency", amount: "9223372036854776", currency: "KWD"},
		{name: "below_min", amount: "-92233720368547758.09", currency: "USD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := MinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
			assert.ErrorIs(t, err, ErrAmountOutOfRange)
		})
	}
}

func TestAddMinor(t *testing.T) {
	sum, err := AddMinor(math.MaxInt64-1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), sum)

	_, err = AddMinor(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
	_, err = AddMinor(math.MinInt64, -1)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, decimal.RequireFromString("66.66").Equal(FromMinorUnits(6666, "USD")))
	assert.True(t, decimal.NewFromInt(1500).Equal(FromMinorUnits(1500, "JPY")))
	assert.True(t, decimal.RequireFromString("1.235").Equal(FromMinorUnits(1235, "BHD")))
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	oneCent := decimal.RequireFromString("0.01")
	for cents := int64(0); cents <= 100_000; cents += 37 {
		x := decimal.New(cents, -2)
		back := FromMinorUnits(ToMinorUnits(x, "USD"), "USD")
		assert.True(t, back.Sub(x).Abs().LessThanOrEqual(oneCent), "round trip of %s gave %s", x, back)
		assert.True(t, back.Equal(x), "two-decimal amount %s must survive exactly", x)
	}
}

func TestCurrencyExponent(t *testing.T) {
	assert.Equal(t, int32(2), CurrencyExponent("USD"))
	assert.Equal(t, int32(2), CurrencyExponent("NGN"))
	assert.Equal(t, int32(0), CurrencyExponent("JPY"))
	assert.Equal(t, int32(3), CurrencyExponent(" kwd "))
}

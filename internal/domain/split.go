package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidShareRatio = errors.New("share ratio must be greater than 0 and at most 1")

// SplitResult is the author/platform division of one line total.
type SplitResult struct {
	TotalMinor    int64
	AuthorMinor   int64
	PlatformMinor int64
	AuthorPayout  decimal.Decimal
	PlatformFee   decimal.Decimal
	// Skip is set when the line has nothing to pay out.
	Skip bool
}

// ValidateShareRatio checks that ratio lies in (0, 1].
func ValidateShareRatio(ratio decimal.Decimal) error {
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidShareRatio
	}
	return nil
}

// Split divides lineTotal between the author and the platform.
// The author share is rounded half-up in minor units and the platform fee is
// the remainder, so the two always add back up to the line total.
func Split(lineTotal, shareRatio decimal.Decimal, currency string) (SplitResult, error) {
	if err := ValidateShareRatio(shareRatio); err != nil {
		return SplitResult{}, err
	}
	totalMinor, err := MinorUnits(lineTotal, currency)
	if err != nil {
		return SplitResult{}, err
	}
	return SplitMinor(totalMinor, shareRatio, currency)
}

// SplitMinor is Split for a total already expressed in minor units.
func SplitMinor(totalMinor int64, shareRatio decimal.Decimal, currency string) (SplitResult, error) {
	if err := ValidateShareRatio(shareRatio); err != nil {
		return SplitResult{}, err
	}
	if totalMinor <= 0 {
		return SplitResult{
			AuthorPayout: decimal.Zero,
			PlatformFee:  decimal.Zero,
			Skip:         true,
		}, nil
	}

	authorMinor := roundHalfUp(decimal.NewFromInt(totalMinor).Mul(shareRatio)).IntPart()
	platformMinor := totalMinor - authorMinor

	return SplitResult{
		TotalMinor:    totalMinor,
		AuthorMinor:   authorMinor,
		PlatformMinor: platformMinor,
		AuthorPayout:  FromMinorUnits(authorMinor, currency),
		PlatformFee:   FromMinorUnits(platformMinor, currency),
	}, nil
}

package enums

import "fmt"

// FundCategory classifies wallet credits so the right accumulators move.
type FundCategory string

const (
	FundCategoryEarned   FundCategory = "earned"
	FundCategoryBonus    FundCategory = "bonus"
	FundCategoryTopup    FundCategory = "topup"
	FundCategoryTransfer FundCategory = "transfer"
	FundCategoryRefund   FundCategory = "refund"
)

var validFundCategories = []FundCategory{
	FundCategoryEarned,
	FundCategoryBonus,
	FundCategoryTopup,
	FundCategoryTransfer,
	FundCategoryRefund,
}

// IsValid reports whether the value matches a known fund category.
func (c FundCategory) IsValid() bool {
	for _, candidate := range validFundCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseFundCategory converts raw input into FundCategory.
func ParseFundCategory(value string) (FundCategory, error) {
	for _, candidate := range validFundCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fund category %q", value)
}

// BalanceBucket names one of the wallet's disjoint balance partitions.
type BalanceBucket string

const (
	BucketAvailable BalanceBucket = "available"
	BucketLocked    BalanceBucket = "locked"
	BucketPending   BalanceBucket = "pending"
	// BucketDeduct is only valid as a pending-resolution target: the amount
	// leaves the pending bucket without crediting any other bucket.
	BucketDeduct BalanceBucket = "deduct"
)

// IsSource reports whether the bucket can be the source of a pending move.
func (b BalanceBucket) IsSource() bool {
	return b == BucketAvailable || b == BucketLocked
}

// IsResolveTarget reports whether pending funds can resolve into the bucket.
func (b BalanceBucket) IsResolveTarget() bool {
	return b == BucketAvailable || b == BucketLocked || b == BucketDeduct
}

// ParseBalanceBucket converts raw input into BalanceBucket.
func ParseBalanceBucket(value string) (BalanceBucket, error) {
	for _, candidate := range []BalanceBucket{BucketAvailable, BucketLocked, BucketPending, BucketDeduct} {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid balance bucket %q", value)
}

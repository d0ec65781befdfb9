package enums

import "fmt"

// BonusStatus maps to the bonus_status_enum enum in Postgres.
type BonusStatus string

const (
	BonusStatusAvailable BonusStatus = "available"
	BonusStatusClaimed   BonusStatus = "claimed"
	BonusStatusExpired   BonusStatus = "expired"
	BonusStatusCancelled BonusStatus = "cancelled"
)

var validBonusStatuses = []BonusStatus{
	BonusStatusAvailable,
	BonusStatusClaimed,
	BonusStatusExpired,
	BonusStatusCancelled,
}

// IsValid reports whether the value matches the canonical bonus status enum.
func (s BonusStatus) IsValid() bool {
	for _, candidate := range validBonusStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the bonus can no longer change state. Every
// status other than available is terminal.
func (s BonusStatus) IsTerminal() bool {
	return s.IsValid() && s != BonusStatusAvailable
}

// ParseBonusStatus converts raw input into BonusStatus.
func ParseBonusStatus(value string) (BonusStatus, error) {
	for _, candidate := range validBonusStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bonus status %q", value)
}

// BonusType maps to the bonus_type_enum enum in Postgres.
type BonusType string

const (
	BonusTypeWelcome   BonusType = "welcome"
	BonusTypeReferral  BonusType = "referral"
	BonusTypePurchase  BonusType = "purchase"
	BonusTypeLoyalty   BonusType = "loyalty"
	BonusTypeGift      BonusType = "gift"
	BonusTypePromotion BonusType = "promotion"
)

var validBonusTypes = []BonusType{
	BonusTypeWelcome,
	BonusTypeReferral,
	BonusTypePurchase,
	BonusTypeLoyalty,
	BonusTypeGift,
	BonusTypePromotion,
}

// IsValid reports whether the value matches the canonical bonus type enum.
func (t BonusType) IsValid() bool {
	for _, candidate := range validBonusTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseBonusType converts raw input into BonusType.
func ParseBonusType(value string) (BonusType, error) {
	for _, candidate := range validBonusTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bonus type %q", value)
}

package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateWallet      OutboxAggregateType = "wallet"
	AggregateTransaction OutboxAggregateType = "transaction"
	AggregateBonus       OutboxAggregateType = "bonus"
	AggregateUser        OutboxAggregateType = "user"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateWallet,
	AggregateTransaction,
	AggregateBonus,
	AggregateUser,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventTransferCompleted OutboxEventType = "transfer_completed"
	EventTopupInitiated    OutboxEventType = "topup_initiated"
	EventTopupCompleted    OutboxEventType = "topup_completed"
	EventTopupFailed       OutboxEventType = "topup_failed"
	EventBonusClaimed      OutboxEventType = "bonus_claimed"
	EventBonusForwarded    OutboxEventType = "bonus_forwarded"
	EventBonusExpired      OutboxEventType = "bonus_expired"
	EventMoneyRequested    OutboxEventType = "money_requested"
	EventUserRegistered    OutboxEventType = "user_registered"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTransferCompleted,
	EventTopupInitiated,
	EventTopupCompleted,
	EventTopupFailed,
	EventBonusClaimed,
	EventBonusForwarded,
	EventBonusExpired,
	EventMoneyRequested,
	EventUserRegistered,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

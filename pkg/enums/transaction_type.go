package enums

import "fmt"

// TransactionType maps to the transaction_type_enum enum in Postgres.
type TransactionType string

const (
	TransactionTypeReceived   TransactionType = "received"
	TransactionTypeSent       TransactionType = "sent"
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeSale       TransactionType = "sale"
	TransactionTypeCommission TransactionType = "commission"
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeReferral   TransactionType = "referral"
	TransactionTypeTopup      TransactionType = "topup"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeFee        TransactionType = "fee"
	TransactionTypePenalty    TransactionType = "penalty"
	TransactionTypeRequest    TransactionType = "request"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeReceived,
	TransactionTypeSent,
	TransactionTypePurchase,
	TransactionTypeSale,
	TransactionTypeCommission,
	TransactionTypeBonus,
	TransactionTypeReferral,
	TransactionTypeTopup,
	TransactionTypeWithdrawal,
	TransactionTypeRefund,
	TransactionTypeFee,
	TransactionTypePenalty,
	TransactionTypeRequest,
}

// debitTypes lists the transaction types that remove funds from the wallet.
// Every other valid type credits the wallet; `request` moves nothing until
// it is fulfilled.
var debitTypes = map[TransactionType]bool{
	TransactionTypeSent:       true,
	TransactionTypePurchase:   true,
	TransactionTypeWithdrawal: true,
	TransactionTypeFee:        true,
	TransactionTypePenalty:    true,
}

// IsValid reports whether the value matches the canonical transaction type enum.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsDebit reports whether the type removes funds from the owning wallet.
func (t TransactionType) IsDebit() bool {
	return debitTypes[t]
}

// IsCredit reports whether the type adds funds to the owning wallet.
func (t TransactionType) IsCredit() bool {
	return t.IsValid() && !debitTypes[t] && t != TransactionTypeRequest
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}

package enums

import "fmt"

// TopupMethod identifies the payment instrument funding a wallet top-up.
type TopupMethod string

const (
	TopupMethodCard         TopupMethod = "card"
	TopupMethodBankTransfer TopupMethod = "bank_transfer"
	TopupMethodCrypto       TopupMethod = "crypto"
)

var validTopupMethods = []TopupMethod{
	TopupMethodCard,
	TopupMethodBankTransfer,
	TopupMethodCrypto,
}

// IsValid reports whether the value is a known TopupMethod.
func (m TopupMethod) IsValid() bool {
	for _, candidate := range validTopupMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseTopupMethod converts raw input into a TopupMethod.
func ParseTopupMethod(value string) (TopupMethod, error) {
	for _, candidate := range validTopupMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid topup method %q", value)
}

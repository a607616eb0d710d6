package enums

import "fmt"

// PaymentMethodType tags the variant of a payment method reference.
type PaymentMethodType string

const (
	PaymentMethodTypeCard  PaymentMethodType = "card"
	PaymentMethodTypeToken PaymentMethodType = "token"
	PaymentMethodTypeBank  PaymentMethodType = "bank"
)

var validPaymentMethodTypes = []PaymentMethodType{
	PaymentMethodTypeCard,
	PaymentMethodTypeToken,
	PaymentMethodTypeBank,
}

// String implements fmt.Stringer.
func (p PaymentMethodType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethodType.
func (p PaymentMethodType) IsValid() bool {
	for _, candidate := range validPaymentMethodTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethodType converts raw input into a PaymentMethodType.
func ParsePaymentMethodType(value string) (PaymentMethodType, error) {
	for _, candidate := range validPaymentMethodTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method type %q", value)
}

package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gmartell/paycore/pkg/enums"
)

// Money is a fixed-point amount in minor units (cents for USD) paired with
// its currency. Amounts are never represented as floating point.
type Money struct {
	AmountMinor int64          `json:"amount_minor"`
	Currency    enums.Currency `json:"currency"`
}

// New builds a Money value without validating the amount sign.
func New(amountMinor int64, currency enums.Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Validate checks the currency is known and the amount is strictly positive.
func (m Money) Validate() error {
	if !m.Currency.IsValid() {
		return fmt.Errorf("invalid currency %q", m.Currency)
	}
	if m.AmountMinor <= 0 {
		return fmt.Errorf("amount must be positive, got %d", m.AmountMinor)
	}
	return nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// SameCurrency reports whether both values share a currency.
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// Add returns the sum of two amounts in the same currency.
func (m Money) Add(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub returns m minus other in the same currency.
func (m Money) Sub(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// GreaterThan reports whether m exceeds other. Currencies must match; a
// mismatch reports false.
func (m Money) GreaterThan(other Money) bool {
	return m.SameCurrency(other) && m.AmountMinor > other.AmountMinor
}

// Decimal converts the minor-unit amount into major units for display.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.AmountMinor, -int32(minorUnitDigits(m.Currency)))
}

// String renders the amount in major units with the currency code.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(int32(minorUnitDigits(m.Currency))), m.Currency)
}

func minorUnitDigits(currency enums.Currency) int {
	// All supported currencies carry two minor-unit digits.
	_ = currency
	return 2
}

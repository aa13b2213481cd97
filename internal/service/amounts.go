package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits scales a human-readable amount to the chain's integer
// representation using the token's declared decimals. Precision beyond
// 10^-d is rounded half away from zero.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}
	return amount.Shift(int32(decimals)).Round(0).BigInt(), nil
}

// FromBaseUnits converts a chain integer amount back to the human-readable
// unit.
func FromBaseUnits(amount *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// NewRecordID generates a fresh 32-byte hex correlation id for a record
// initiated on this side of the ledger.
func NewRecordID() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate record id: %w", err)
	}
	return "0x" + hex.EncodeToString(buf[:]), nil
}

package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
)

const referencePrefix = "CS_"

// newReference mints a candidate gateway reference. Uniqueness is owned
// by the store's constraint, not by this function; the caller retries on
// a duplicate-key insert.
func newReference() string {
	return referencePrefix + ulid.Make().String()
}

// newPaymentCode formats the human-facing code, e.g. PAY20260812345.
func newPaymentCode(now time.Time) string {
	return fmt.Sprintf("PAY%04d%02d%s", now.Year(), int(now.Month()), randomDigits(5))
}

// newInvoiceNumber formats the invoice number, e.g. INV2026081234.
func newInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV%04d%02d%s", now.Year(), int(now.Month()), randomDigits(4))
}

func randomDigits(n int) string {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}

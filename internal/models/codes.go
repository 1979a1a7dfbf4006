package models

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 10

func randomCode(prefix string) string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on supported platforms does not fail
		panic(fmt.Sprintf("random code: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return prefix + string(buf)
}

// NewOrderCode returns a fresh unguessable order code. The code doubles as a
// capability token for guest order lookup, so it must carry enough entropy to
// be unenumerable.
func NewOrderCode() string { return randomCode("ORD-") }

// NewPaymentCode returns a fresh payment code.
func NewPaymentCode() string { return randomCode("PAY-") }

// NewCartCode returns a fresh cart code.
func NewCartCode() string { return randomCode("CRT-") }

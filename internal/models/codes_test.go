package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderCodeFormat(t *testing.T) {
	code := NewOrderCode()

	assert.True(t, strings.HasPrefix(code, "ORD-"))
	assert.Len(t, code, len("ORD-")+codeLength)
	for _, r := range code[4:] {
		assert.Contains(t, codeAlphabet, string(r))
	}
}

func TestNewCodesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code := NewOrderCode()
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestCodePrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewPaymentCode(), "PAY-"))
	assert.True(t, strings.HasPrefix(NewCartCode(), "CRT-"))
}

package models

import "errors"

// Domain errors. Handlers map these to HTTP statuses with errors.Is; services
// wrap them with context via fmt.Errorf("...: %w", err).
var (
	ErrOutOfStock           = errors.New("requested quantity exceeds available stock")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrMissingField         = errors.New("required checkout field missing")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidTransition    = errors.New("illegal status transition")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrProviderUnavailable  = errors.New("payment provider not available")
)

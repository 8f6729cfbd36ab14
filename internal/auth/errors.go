package auth

import "errors"

var (
	ErrNotFound          = errors.New("auth: not found")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrExpired           = errors.New("auth: credential expired")
	ErrAlreadyConsumed   = errors.New("auth: credential already used")
	ErrConflict          = errors.New("auth: already exists")
	ErrForbidden         = errors.New("auth: forbidden")
	ErrUnauthorized      = errors.New("auth: unauthorized")
	ErrDeliveryFailed    = errors.New("auth: delivery failed")
	ErrInvalidInput      = errors.New("auth: invalid input")
)

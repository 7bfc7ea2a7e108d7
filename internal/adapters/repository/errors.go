package repository

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrNotFound   = errors.New("order record not found")
	ErrInvalidRef = errors.New("order record has no customer reference")
)

package service

import (
	"errors"

	"github.com/okian/atlasbatch/internal/adapters/oneatlas"
	"github.com/okian/atlasbatch/internal/domain/model"
)

// Sentinel kinds for run errors.
var (
	ErrPollTimeout = errors.New("order not delivered in time")
	ErrNotVisible  = errors.New("order not listed yet")
)

// Fatal reports whether err must abort the whole run rather than one site:
// rejected credentials and malformed input.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	var verr *model.ValidationError
	return oneatlas.IsAuth(err) || errors.As(err, &verr)
}

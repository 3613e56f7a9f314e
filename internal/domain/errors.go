package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrOverflow           = errors.New("subscriber overflow")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrUnauthorized       = errors.New("unauthorized")

	ErrEmptyText    = fmt.Errorf("%w: empty text", ErrValidation)
	ErrTextTooLarge = fmt.Errorf("%w: text too large", ErrValidation)
)

// IsDomainError reports whether err belongs to the messaging error taxonomy.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrInvalidParticipant) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrOverflow) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrUnauthorized)
}

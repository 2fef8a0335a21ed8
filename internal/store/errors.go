package store

import (
	"errors"
	"fmt"

	"libradesk/internal/domain"
)

// Translate maps a store failure onto the domain taxonomy. subject names what
// was being read or written and prefixes the message.
func Translate(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s: %w", subject, domain.ErrNotFound)
	case errors.Is(err, ErrDuplicate):
		return fmt.Errorf("%s already exists: %w", subject, domain.ErrConstraintViolation)
	case errors.Is(err, ErrReferenced):
		return fmt.Errorf("%s is still referenced: %w", subject, domain.ErrConstraintViolation)
	case errors.Is(err, ErrCheck), errors.Is(err, ErrConflict):
		return fmt.Errorf("%s: %w: %w", subject, domain.ErrConstraintViolation, err)
	default:
		return fmt.Errorf("%s: %w: %w", subject, domain.ErrStore, err)
	}
}

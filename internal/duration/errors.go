package duration

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/dwelltime/internal/blob"
	"github.com/goodtune/dwelltime/internal/storage"
)

// Error kinds returned by the Tracker. Callers classify with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage failure")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classify maps storage and blob errors onto the tracker's error kinds.
// Errors that already carry a kind pass through unchanged.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation), errors.Is(err, ErrStorage):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, op)
	case errors.Is(err, storage.ErrEndBeforeStart), errors.Is(err, storage.ErrNegativeTotal),
		errors.Is(err, blob.ErrInvalidRef), errors.Is(err, blob.ErrUnsupported),
		errors.Is(err, blob.ErrTooLarge), errors.Is(err, blob.ErrEmpty):
		return fmt.Errorf("%w: %s: %v", ErrValidation, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
	}
}

// kind names the error kind for metrics labels.
func kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage"
	}
}

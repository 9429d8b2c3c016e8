package engine

import (
	"errors"
	"fmt"

	"github.com/basket/wolfpack/internal/auth"
	"github.com/basket/wolfpack/internal/persistence"
	"github.com/basket/wolfpack/internal/scoring"
)

// Sentinel errors. The gateway maps them to HTTP statuses with errors.Is.
var (
	ErrInvalid      = errors.New("invalid request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// classify rewrites store and scoring errors into engine sentinels so
// callers only need to know this package's errors.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrUnauthorized):
		return err
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, persistence.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, scoring.ErrUnknownTask):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, scoring.ErrTaskDone):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, scoring.ErrNoRole), errors.Is(err, scoring.ErrScoreRange),
		errors.Is(err, auth.ErrPasswordLong):
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	default:
		return err
	}
}

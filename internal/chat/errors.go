package chat

import (
	"errors"
	"fmt"

	"relaychat/backend/internal/storage"
)

// Business errors returned by Service. Callers match them with errors.Is; the
// wrapped message carries the detail shown to the client.
var (
	ErrValidation        = errors.New("validation failed")
	ErrAuthorization     = errors.New("not authorized")
	ErrNotFound          = errors.New("not found")
	ErrEditWindowExpired = errors.New("edit window expired")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// storeError converts a repository error into the business taxonomy so raw
// storage errors never leave the service.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return notFound(what)
	case errors.Is(err, storage.ErrDuplicate):
		return validationf("%s already exists", what)
	}
	return fmt.Errorf("failed to access %s: %w", what, err)
}

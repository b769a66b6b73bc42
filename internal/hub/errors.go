package hub

import (
	"errors"
	"fmt"

	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Error kinds reported by hub operations. Callers match them with errors.Is.
var (
	ErrAuth        = errors.New("authentication error")
	ErrPermission  = errors.New("permission denied")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
	ErrInvalid     = errors.New("invalid request")
)

// storeErr classifies an error returned by the store for op.
func storeErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// clientReason maps an error to the short text sent in message-error.
func clientReason(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "authentication required"
	case errors.Is(err, ErrPermission):
		return "not a participant of this chat"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalid):
		return err.Error()
	default:
		return "failed to process request"
	}
}

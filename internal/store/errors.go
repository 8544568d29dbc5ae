package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input the caller must fix; nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	ErrInvalidUserID = fmt.Errorf("%w: Invalid user ID format", ErrValidation)
	ErrInvalidItemID = fmt.Errorf("%w: Invalid item ID", ErrValidation)
	ErrEmptyText     = fmt.Errorf("%w: Message text is empty", ErrValidation)
	ErrSelfMessage   = fmt.Errorf("%w: Cannot send a message to yourself", ErrValidation)
	ErrInvalidUser   = fmt.Errorf("%w: Invalid user profile", ErrValidation)

	ErrUserNotFound = fmt.Errorf("%w: User not found", ErrNotFound)
)

// Reason returns the client-facing text of a validation or not-found error,
// and false for anything else.
func Reason(err error) (string, bool) {
	for _, known := range []error{
		ErrInvalidUserID, ErrInvalidItemID, ErrEmptyText, ErrSelfMessage, ErrInvalidUser, ErrUserNotFound,
	} {
		if errors.Is(err, known) {
			return reasonText(known), true
		}
	}
	return "", false
}

// reasonText strips the class prefix added by the %w wrapping above.
func reasonText(err error) string {
	msg := err.Error()
	for _, class := range []error{ErrValidation, ErrNotFound} {
		if rest, ok := strings.CutPrefix(msg, class.Error()+": "); ok {
			return rest
		}
	}
	return msg
}

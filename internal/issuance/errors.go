package issuance

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Service wraps exactly one of these;
// match with errors.Is.
var (
	ErrInvalidNameFormat = errors.New("InvalidNameFormat")
	ErrNameTaken         = errors.New("NameTaken")
	ErrOwnerNotFound     = errors.New("OwnerNotFound")
	ErrOwnerHasActiveKey = errors.New("OwnerAlreadyHasActiveKey")
	ErrDuplicateKey      = errors.New("DuplicateKey")
	ErrStorage           = errors.New("StorageError")

	ErrKeyNotFound   = errors.New("KeyNotFound")
	ErrInvalidSecret = errors.New("InvalidSecret")
	ErrKeyInactive   = errors.New("KeyInactive")
)

// Error carries the failure kind together with the inputs that produced it
// and, for storage failures, the underlying cause.
type Error struct {
	Kind    error
	Name    string
	OwnerID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", Message(e), e.Err)
	}
	return Message(e)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind returns the failure kind of err, or nil if err is not an issuance
// failure.
func Kind(err error) error {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	for _, k := range []error{
		ErrInvalidNameFormat, ErrNameTaken, ErrOwnerNotFound, ErrOwnerHasActiveKey,
		ErrDuplicateKey, ErrStorage, ErrKeyNotFound, ErrInvalidSecret, ErrKeyInactive,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message renders the operator-facing message for err.
func Message(err error) string {
	var ie *Error
	if !errors.As(err, &ie) {
		if err == nil {
			return ""
		}
		return err.Error()
	}

	switch ie.Kind {
	case ErrInvalidNameFormat:
		return "Invalid name.  Must be a lowercase alphabetic characters and hyphens less than 255 characters long."
	case ErrNameTaken:
		return "Name is unavailable."
	case ErrOwnerNotFound:
		return fmt.Sprintf("User with id %s does not exist", ie.OwnerID)
	case ErrOwnerHasActiveKey:
		return fmt.Sprintf("User with id %s yet has an active key", ie.OwnerID)
	case ErrDuplicateKey:
		return "A conflicting key was created concurrently. Retry the request."
	case ErrStorage:
		return "Key storage is unavailable."
	case ErrKeyNotFound:
		return fmt.Sprintf("No active key named %q", ie.Name)
	case ErrInvalidSecret:
		return "Invalid API key."
	case ErrKeyInactive:
		return "API key has been deactivated."
	default:
		return ie.Kind.Error()
	}
}

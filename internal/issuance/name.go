package issuance

import "regexp"

// namePattern admits lowercase ASCII letters and hyphens, 1 to 254 characters.
var namePattern = regexp.MustCompile(`^[a-z-]{1,254}$`)

// ValidateName enforces the key naming policy. It returns an error wrapping
// ErrInvalidNameFormat when name does not conform.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return &Error{Kind: ErrInvalidNameFormat, Name: name}
	}
	return nil
}

package session

import (
	"errors"
	"fmt"
	"regexp"
)

// Session names become directory names under the state root, so the
// accepted alphabet is deliberately narrow.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that a session name is safe to use as a directory
// and lock-file name.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("session name is empty")
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 chars of [a-z0-9_-]", name)
	}
	return nil
}

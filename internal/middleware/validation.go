package middleware

import (
	"errors"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateStreamID validates a stream id path or query parameter. Stream ids
// are embedded in NATS subjects, so the character set is restricted.
func ValidateStreamID(id string) error {
	if id == "" {
		return errors.New("stream id is required")
	}
	if !idPattern.MatchString(id) {
		return errors.New("invalid stream id")
	}
	return nil
}

// ValidateSessionID validates a session id path parameter.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if !idPattern.MatchString(id) {
		return errors.New("invalid session id")
	}
	return nil
}

package inventory

import (
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidSession = errors.New("invalid session id")

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// Session identifies one shopper's cart. Holds are scoped to it and it is
// always passed explicitly.
type Session struct {
	ID string
}

func ParseSession(raw string) (Session, error) {
	id := strings.TrimSpace(raw)
	if !sessionPattern.MatchString(id) {
		return Session{}, ErrInvalidSession
	}
	return Session{ID: id}, nil
}

func (s Session) Empty() bool { return s.ID == "" }

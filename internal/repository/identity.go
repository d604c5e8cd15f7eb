package repository

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentity is wrapped by every ParseIdentity failure.
var ErrInvalidIdentity = errors.New("invalid repo URL or identifier")

var (
	urlPattern       = regexp.MustCompile(`^(?:https?://)?(?:www\.)?github\.com/([^/]+)/([^/]+?)(?:\.git)?$`)
	shorthandPattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+)$`)
)

// Identity names a repository as an (owner, name) pair.
type Identity struct {
	Owner string
	Name  string
}

// FullName returns the canonical "owner/name" form.
func (id Identity) FullName() string {
	return id.Owner + "/" + id.Name
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return id.FullName()
}

// ParseIdentity accepts a github.com URL (with or without scheme, www, or a
// .git suffix) or the "owner/name" shorthand.
func ParseIdentity(input string) (Identity, error) {
	s := strings.TrimRight(strings.TrimSpace(input), "/")

	if m := urlPattern.FindStringSubmatch(s); m != nil {
		return Identity{Owner: m[1], Name: m[2]}, nil
	}
	if m := shorthandPattern.FindStringSubmatch(s); m != nil {
		return Identity{Owner: m[1], Name: m[2]}, nil
	}
	return Identity{}, fmt.Errorf("%w: %s", ErrInvalidIdentity, input)
}

// MustParseIdentity is ParseIdentity for constants; it panics on bad input.
func MustParseIdentity(input string) Identity {
	id, err := ParseIdentity(input)
	if err != nil {
		panic(err)
	}
	return id
}

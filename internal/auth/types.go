package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// API permissions. Trade implies read.
const (
	PermissionRead  = "read"
	PermissionTrade = "trade"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Config configures the authentication service.
type Config struct {
	Mode       Mode
	Principals []Principal
}

// Principal is a named static bearer token.
type Principal struct {
	Name        string
	Token       string
	Permissions []string
	Disabled    bool
}

// Subject is the authenticated caller attached to the request context.
type Subject struct {
	Username    string
	Permissions []string
	Disabled    bool
}

func canonicalPermission(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func canonicalPermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if c := canonicalPermission(p); c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// HasPermission reports whether the subject holds permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	want := canonicalPermission(permission)
	return slices.ContainsFunc(s.Permissions, func(have string) bool {
		have = canonicalPermission(have)
		return have == want || (want == PermissionRead && have == PermissionTrade)
	})
}

// Authorize checks the subject is active and holds every non-empty permission in perms.
func (s *Subject) Authorize(perms ...string) error {
	switch {
	case s == nil:
		return ErrInvalidToken
	case s.Disabled:
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm != "" && !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

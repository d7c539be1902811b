// Package auth owns the authenticated identity of the running client: the
// access token, the role it was issued for and, for company users, the
// company it is scoped to.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCompany Role = "company"
)

// Roles lists every role a session can carry.
func Roles() []Role {
	return []Role{RoleAdmin, RoleCompany}
}

var (
	ErrUnknownRole  = errors.New("unknown role")
	ErrMissingScope = errors.New("company session without company id")
	ErrEmptyToken   = errors.New("empty access token")
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleCompany:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// DefaultRedirect is the landing route for a role when the server sends none.
func DefaultRedirect(r Role) string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleCompany:
		return "/company"
	}
	return "/login"
}

// Session is an authenticated identity. ScopeID is the company id and is
// only meaningful for RoleCompany.
type Session struct {
	Token    string
	Username string
	Role     Role
	ScopeID  string
	Redirect string
}

// normalize enforces the role/scope invariant in place.
func (s *Session) normalize() error {
	if s.Token == "" {
		return ErrEmptyToken
	}
	role, err := ParseRole(string(s.Role))
	if err != nil {
		return err
	}
	s.Role = role
	switch role {
	case RoleAdmin:
		s.ScopeID = ""
	case RoleCompany:
		if strings.TrimSpace(s.ScopeID) == "" {
			return ErrMissingScope
		}
	}
	if s.Redirect == "" {
		s.Redirect = DefaultRedirect(role)
	}
	return nil
}

// SameChannel reports whether both sessions would open the same realtime
// connection.
func (s *Session) SameChannel(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Role == o.Role && s.ScopeID == o.ScopeID && s.Token == o.Token
}

// userData is the persisted identity, stored next to the token.
type userData struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	CompanyID FlexID `json:"company_id,omitempty"`
	Redirect  string `json:"redirect,omitempty"`
}

// FlexID decodes an identifier sent either as a JSON number or a string.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", b)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %s", b)
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

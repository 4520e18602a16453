package auth

import (
	"errors"
	"regexp"
)

// subjectPattern restricts operator ids to a log-safe character set.
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]{1,64}$`)

// IsValidSubject checks an operator id.
func IsValidSubject(id string) bool {
	return subjectPattern.MatchString(id)
}

// Role is an authorisation tier.
type Role string

const (
	// RoleViewer can watch playout state and read the as-run log.
	RoleViewer Role = "viewer"

	// RoleOperator drives playout: take, next, hold and ad-libs.
	RoleOperator Role = "operator"

	// RoleAdmin can also change rundown content through the ingest routes.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Operator is the identity a token is issued to.
type Operator struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrInvalidRole  = errors.New("invalid role")
)

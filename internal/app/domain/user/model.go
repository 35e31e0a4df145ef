package user

import (
	"fmt"
	"strings"
	"time"
)

// Role is the fixed capability tier assigned to a user at creation.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleNormal     Role = "normal"
	RoleStoreOwner Role = "store_owner"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleNormal, RoleStoreOwner}

// ParseRole converts raw input into a Role. Empty input is rejected; callers
// apply their own default before parsing.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleNormal, RoleStoreOwner:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// User is a registered account. PasswordHash and TokenEpoch never leave the
// process.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Address      string    `json:"address"`
	Role         Role      `json:"role"`
	TokenEpoch   int       `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter narrows user listings. Text fields match case-insensitive substrings.
type Filter struct {
	Name    string
	Email   string
	Address string
	Role    Role
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

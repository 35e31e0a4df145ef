// Package authz maps an authenticated identity and its role to the
// operations it may perform.
package authz

import (
	"context"
	"fmt"

	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/errors"
)

// Identity is the caller resolved from a verified credential.
type Identity struct {
	UserID int64
	Role   user.Role
}

// IsZero reports whether no caller was resolved.
func (i Identity) IsZero() bool {
	return i.UserID == 0 || i.Role == ""
}

// Operation names a protected action.
type Operation string

const (
	OpUpdatePassword       Operation = "update_password"
	OpListStores           Operation = "list_stores"
	OpViewReviews          Operation = "view_reviews"
	OpSubmitRating         Operation = "submit_rating"
	OpCreateOwnStore       Operation = "create_own_store"
	OpViewOwnerDashboard   Operation = "view_owner_dashboard"
	OpAdminDashboard       Operation = "admin_dashboard"
	OpAdminListUsers       Operation = "admin_list_users"
	OpAdminListStores      Operation = "admin_list_stores"
	OpAdminListStoreOwners Operation = "admin_list_store_owners"
	OpAdminCreateUser      Operation = "admin_create_user"
	OpAdminCreateStore     Operation = "admin_create_store"
)

var (
	anyRole   = roles(user.RoleNormal, user.RoleStoreOwner, user.RoleAdmin)
	adminOnly = roles(user.RoleAdmin)
)

var policy = map[Operation]map[user.Role]bool{
	OpUpdatePassword:       anyRole,
	OpListStores:           anyRole,
	OpViewReviews:          anyRole,
	OpSubmitRating:         roles(user.RoleNormal),
	OpCreateOwnStore:       roles(user.RoleStoreOwner),
	OpViewOwnerDashboard:   roles(user.RoleStoreOwner),
	OpAdminDashboard:       adminOnly,
	OpAdminListUsers:       adminOnly,
	OpAdminListStores:      adminOnly,
	OpAdminListStoreOwners: adminOnly,
	OpAdminCreateUser:      adminOnly,
	OpAdminCreateStore:     adminOnly,
}

func roles(rs ...user.Role) map[user.Role]bool {
	set := make(map[user.Role]bool, len(rs))
	for _, r := range rs {
		set[r] = true
	}
	return set
}

// Allowed reports whether role may perform op. Unknown operations are denied.
func Allowed(role user.Role, op Operation) bool {
	return policy[op][role]
}

// Authorize returns an authentication error for a missing identity and an
// authorization error for a role outside the operation's set.
func Authorize(id Identity, op Operation) error {
	if id.IsZero() {
		return errors.Unauthorized("")
	}
	if !Allowed(id.Role, op) {
		return errors.Forbidden(fmt.Sprintf("role %s may not %s", id.Role, op)).
			WithDetails("operation", string(op))
	}
	return nil
}

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored on ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && !id.IsZero()
}

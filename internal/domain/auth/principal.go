package auth

import "context"

// Role is a staff role as stored on the users table.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleStaff      Role = "staff"
)

// ReviewerRoles are the roles allowed to decide approval requests and the
// ones notified when a new request is filed.
var ReviewerRoles = []Role{RoleSuperAdmin, RoleAdmin, RoleManager}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleStaff:
		return true
	}
	return false
}

// CanReview reports whether r may approve or reject requests.
func (r Role) CanReview() bool {
	for _, rr := range ReviewerRoles {
		if r == rr {
			return true
		}
	}
	return false
}

// CanReadAudit reports whether r may query the audit trail.
func (r Role) CanReadAudit() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	Name   string
	Role   Role
}

// Actor describes who performs a mutation and from where. An empty UserID
// denotes a system action.
type Actor struct {
	UserID    string
	Role      Role
	IPAddress string
	UserAgent string
}

// Actor returns p acting from the given client address and user agent.
func (p Principal) Actor(ip, userAgent string) Actor {
	return Actor{UserID: p.UserID, Role: p.Role, IPAddress: ip, UserAgent: userAgent}
}

// System is the actor used for mutations not initiated by a person.
var System = Actor{}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

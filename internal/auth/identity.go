package auth

import "context"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDoctor     Role = "medico"
	RoleReception  Role = "recepcion"
	RoleLaboratory Role = "laboratorio"
	RolePatient    Role = "patient"
)

// Identity is a verified caller as issued by the identity provider.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// IsStaff reports whether the caller may act on other patients' records.
func (i Identity) IsStaff() bool {
	return i.Role == RoleAdmin || i.Role == RoleReception
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the verified caller, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

package auth

// Role is the coarse privilege level attached to a resolved identity.
type Role string

const (
	// RoleAdmin can manage any key and query the audit trail. System keys
	// and members of the configured admin group resolve to it.
	RoleAdmin Role = "admin"
	// RoleUser can manage only keys it owns.
	RoleUser Role = "user"
)

// Mechanism records which link of the resolver chain produced an identity.
type Mechanism string

const (
	MechanismBypass       Mechanism = "bypass"
	MechanismSecretBearer Mechanism = "secret-bearer"
	MechanismTrustedProxy Mechanism = "trusted-proxy"
)

// Identity is the outcome of a successful authentication.
type Identity struct {
	Principal string
	Role      Role
	Mechanism Mechanism

	// KeyID is set only for secret-bearer authentication.
	KeyID string
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

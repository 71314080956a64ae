package protocol

// Role is a capability class a peer advertises during the handshake. Client
// roles attach to sessions joining a realm; router roles belong to the peer
// routing between them.
type Role string

const (
	RoleCaller     Role = "caller"
	RoleCallee     Role = "callee"
	RoleSubscriber Role = "subscriber"
	RolePublisher  Role = "publisher"

	RoleBroker Role = "broker"
	RoleDealer Role = "dealer"
)

// Name returns the wire string used as the key in the Hello details roles
// mapping.
func (r Role) Name() string { return string(r) }

// IsClient reports whether r is one of the client roles.
func (r Role) IsClient() bool {
	switch r {
	case RoleCaller, RoleCallee, RoleSubscriber, RolePublisher:
		return true
	}
	return false
}

// IsRouter reports whether r is one of the router roles.
func (r Role) IsRouter() bool {
	return r == RoleBroker || r == RoleDealer
}

var implementedClientRoles = map[Role]bool{
	RoleSubscriber: true,
}

var implementedRouterRoles = map[Role]bool{}

// ImplementedClientRoles returns the client roles this build can negotiate.
func ImplementedClientRoles() []Role {
	return rolesOf(implementedClientRoles)
}

// ImplementedRouterRoles returns the router roles this build can negotiate.
// Currently empty: this is a client-only implementation.
func ImplementedRouterRoles() []Role {
	return rolesOf(implementedRouterRoles)
}

func rolesOf(set map[Role]bool) []Role {
	roles := make([]Role, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	return roles
}

// IsAllowed reports whether a session may be established with role r. The
// check is a pure membership test and runs before any network I/O so a
// misconfigured role fails without a round trip.
func IsAllowed(r Role) bool {
	return implementedClientRoles[r] || implementedRouterRoles[r]
}

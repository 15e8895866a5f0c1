package flow

// RequiredRoles must all be present before a flow can be deployed.
var RequiredRoles = []Role{RoleBackend, RoleDatabase, RoleServer}

// IsDeployable reports whether nodes cover every required role.
func IsDeployable(nodes []Node) bool {
	return len(MissingRequiredRoles(nodes)) == 0
}

// MissingRequiredRoles returns the required roles absent from nodes, in
// RequiredRoles order. The result is empty, not nil, when nothing is missing.
func MissingRequiredRoles(nodes []Node) []Role {
	present := make(map[Role]bool, len(nodes))
	for _, n := range nodes {
		present[n.Role] = true
	}
	missing := []Role{}
	for _, r := range RequiredRoles {
		if !present[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

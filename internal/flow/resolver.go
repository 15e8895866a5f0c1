package flow

const autoConnectionPrefix = "auto-conn-"

// Rule is one row of the auto-connect table: when a node of NewRole is
// inserted, connect it to the first existing node of Target. Outbound rules
// draw the edge new → target, inbound rules target → new.
type Rule struct {
	NewRole  Role
	Target   Role
	Outbound bool
	// Active replaces Target with the node selected at insertion time.
	Active bool
}

// Rules is the auto-connect table, evaluated top to bottom.
var Rules = []Rule{
	{NewRole: RoleFrontend, Target: RoleBackend, Outbound: true},
	{NewRole: RoleFrontend, Target: RoleRepository, Outbound: true},
	{NewRole: RoleBackend, Target: RoleFrontend},
	{NewRole: RoleBackend, Target: RoleDatabase, Outbound: true},
	{NewRole: RoleBackend, Target: RoleRepository, Outbound: true},
	{NewRole: RoleDatabase, Target: RoleBackend},
	{NewRole: RoleRepository, Target: RoleFrontend},
	{NewRole: RoleRepository, Target: RoleBackend},
	{NewRole: RoleRepository, Target: RoleCICD, Outbound: true},
	{NewRole: RoleCICD, Target: RoleRepository},
	{NewRole: RoleCICD, Target: RoleServer, Outbound: true},
	{NewRole: RoleServer, Target: RoleCICD},
	{NewRole: RoleOptional, Active: true},
}

// AutoConnectionID is the canonical id of an auto-created connection between
// a and b. It does not depend on argument order.
func AutoConnectionID(a, b string) string {
	p := NewPair(a, b)
	return autoConnectionPrefix + p.A + "-" + p.B
}

// Resolve returns the connections to create for newNode, which must already be
// part of nodes. existing holds the current connections; pairs already joined
// there, or proposed earlier in the same call, are skipped, as is any
// proposal whose id is already taken. activeID is the selected node at
// insertion time and may be empty.
//
// Only the first node of a target role, in insertion order, is considered.
// Calling Resolve again once its result has been applied returns nothing.
func Resolve(nodes []Node, existing []Connection, newNode Node, activeID string) []Connection {
	joined := make(map[Pair]bool, len(existing))
	ids := make(map[string]bool, len(existing))
	for _, c := range existing {
		joined[c.Pair()] = true
		ids[c.ID] = true
	}

	var out []Connection
	for _, rule := range Rules {
		if rule.NewRole != newNode.Role {
			continue
		}
		target, ok := rule.target(nodes, newNode, activeID)
		if !ok {
			continue
		}
		from, to := target.ID, newNode.ID
		if rule.Outbound {
			from, to = newNode.ID, target.ID
		}
		p := NewPair(from, to)
		id := AutoConnectionID(from, to)
		if joined[p] || ids[id] {
			continue
		}
		joined[p] = true
		ids[id] = true
		out = append(out, Connection{ID: id, From: from, To: to})
	}
	return out
}

func (r Rule) target(nodes []Node, newNode Node, activeID string) (Node, bool) {
	for _, n := range nodes {
		if n.ID == newNode.ID {
			continue
		}
		if r.Active {
			if activeID != "" && n.ID == activeID {
				return n, true
			}
			continue
		}
		if n.Role == r.Target {
			return n, true
		}
	}
	return Node{}, false
}

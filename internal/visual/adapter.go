package visual

import (
	"slices"
	"sync"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
)

// OpKind names a single change to the visual graph.
type OpKind string

const (
	OpUpsertNode OpKind = "upsert_node"
	OpRemoveNode OpKind = "remove_node"
	OpUpsertEdge OpKind = "upsert_edge"
	OpRemoveEdge OpKind = "remove_edge"
)

// Op is one visual change. Upserts carry the full node or edge; removals
// carry only the id.
type Op struct {
	Kind OpKind `json:"op"`
	ID   string `json:"id"`
	Node *Node  `json:"node,omitempty"`
	Edge *Edge  `json:"edge,omitempty"`
}

// Sink receives every batch of ops the adapter applies. Apply runs inside the
// store's event dispatch and must not block.
type Sink interface {
	Apply(ops []Op)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ops []Op)

// Apply calls f(ops).
func (f SinkFunc) Apply(ops []Op) { f(ops) }

// Adapter keeps a visual graph in step with one flow.Store.
type Adapter struct {
	catalog *catalog.Catalog

	mu    sync.RWMutex
	nodes []Node
	edges []Edge
	sinks []Sink

	unsubscribe func()
}

// Attach projects the current state of s and follows its events from then on.
func Attach(s *flow.Store, c *catalog.Catalog, sinks ...Sink) *Adapter {
	g := Project(s, c)
	a := &Adapter{
		catalog: c,
		nodes:   g.Nodes,
		edges:   g.Edges,
		sinks:   sinks,
	}
	a.unsubscribe = s.Subscribe(a.handle)
	return a
}

// Detach stops following the store.
func (a *Adapter) Detach() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// AddSink registers another receiver of op batches.
func (a *Adapter) AddSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// Graph returns a copy of the current visual graph.
func (a *Adapter) Graph() Graph {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Graph{Nodes: slices.Clone(a.nodes), Edges: slices.Clone(a.edges)}
}

func (a *Adapter) handle(e flow.Event) {
	a.mu.Lock()
	ops := a.translate(e)
	for _, op := range ops {
		a.apply(op)
	}
	sinks := slices.Clone(a.sinks)
	a.mu.Unlock()

	if len(ops) == 0 {
		return
	}
	for _, s := range sinks {
		s.Apply(ops)
	}
}

// translate maps a store event onto visual ops. It reads a.nodes but never
// writes them.
func (a *Adapter) translate(e flow.Event) []Op {
	var ops []Op
	switch e.Kind {
	case flow.EventNodeInserted:
		n := newNode(a.catalog, e.Node, "")
		ops = append(ops, upsertNode(n))
		roles := a.roles()
		roles[n.ID] = n.Data.Role
		for _, c := range e.Connections {
			ops = append(ops, upsertEdge(newEdge(a.catalog, c, roles)))
		}

	case flow.EventNodeRemoved:
		for _, id := range e.RemovedConnectionIDs {
			ops = append(ops, Op{Kind: OpRemoveEdge, ID: id})
		}
		ops = append(ops, Op{Kind: OpRemoveNode, ID: e.NodeID})

	case flow.EventNodeMoved, flow.EventNodeStatus:
		if n, ok := a.node(e.Node.ID); ok {
			n.Position = e.Node.Position
			n.Data.Status = e.Node.Status
			ops = append(ops, upsertNode(n))
		}

	case flow.EventStatusesReset:
		for _, dn := range e.Nodes {
			if n, ok := a.node(dn.ID); ok {
				n.Data.Status = dn.Status
				ops = append(ops, upsertNode(n))
			}
		}

	case flow.EventConnectionAdded:
		roles := a.roles()
		for _, c := range e.Connections {
			ops = append(ops, upsertEdge(newEdge(a.catalog, c, roles)))
		}

	case flow.EventConnectionRemoved:
		for _, id := range e.RemovedConnectionIDs {
			ops = append(ops, Op{Kind: OpRemoveEdge, ID: id})
		}

	case flow.EventConfigurationSet:
		if e.Field != "framework" {
			break
		}
		if n, ok := a.node(e.NodeID); ok {
			n.Data.Framework = e.Value
			ops = append(ops, upsertNode(n))
		}

	case flow.EventSelectionChanged:
		if n, ok := a.node(e.Previous); ok && e.Previous != e.NodeID {
			n.Selected = false
			ops = append(ops, upsertNode(n))
		}
		if n, ok := a.node(e.NodeID); ok {
			n.Selected = true
			ops = append(ops, upsertNode(n))
		}
	}
	return ops
}

func (a *Adapter) apply(op Op) {
	switch op.Kind {
	case OpUpsertNode:
		if i := a.nodeIndex(op.Node.ID); i >= 0 {
			a.nodes[i] = *op.Node
		} else {
			a.nodes = append(a.nodes, *op.Node)
		}
	case OpRemoveNode:
		if i := a.nodeIndex(op.ID); i >= 0 {
			a.nodes = slices.Delete(a.nodes, i, i+1)
		}
	case OpUpsertEdge:
		if i := a.edgeIndex(op.Edge.ID); i >= 0 {
			a.edges[i] = *op.Edge
		} else {
			a.edges = append(a.edges, *op.Edge)
		}
	case OpRemoveEdge:
		if i := a.edgeIndex(op.ID); i >= 0 {
			a.edges = slices.Delete(a.edges, i, i+1)
		}
	}
}

func (a *Adapter) node(id string) (Node, bool) {
	if i := a.nodeIndex(id); i >= 0 {
		return a.nodes[i], true
	}
	return Node{}, false
}

func (a *Adapter) nodeIndex(id string) int {
	return slices.IndexFunc(a.nodes, func(n Node) bool { return n.ID == id })
}

func (a *Adapter) edgeIndex(id string) int {
	return slices.IndexFunc(a.edges, func(e Edge) bool { return e.ID == id })
}

func (a *Adapter) roles() map[string]flow.Role {
	roles := make(map[string]flow.Role, len(a.nodes))
	for _, n := range a.nodes {
		roles[n.ID] = n.Data.Role
	}
	return roles
}

func upsertNode(n Node) Op { return Op{Kind: OpUpsertNode, ID: n.ID, Node: &n} }

func upsertEdge(e Edge) Op { return Op{Kind: OpUpsertEdge, ID: e.ID, Edge: &e} }

package flow

// EventKind names the mutation an Event reports.
type EventKind string

const (
	EventNodeInserted      EventKind = "node_inserted"
	EventNodeRemoved       EventKind = "node_removed"
	EventNodeMoved         EventKind = "node_moved"
	EventNodeStatus        EventKind = "node_status"
	EventStatusesReset     EventKind = "statuses_reset"
	EventConnectionAdded   EventKind = "connection_added"
	EventConnectionRemoved EventKind = "connection_removed"
	EventConfigurationSet  EventKind = "configuration_set"
	EventSelectionChanged  EventKind = "selection_changed"
)

// Event is the single change notification of a completed mutation.
//
//   - node_inserted: Node, Connections (auto-created, possibly empty)
//   - node_removed: NodeID, RemovedConnectionIDs
//   - node_moved, node_status: Node (after the change)
//   - statuses_reset: Nodes whose status went back to pending
//   - configuration_set: NodeID, Field, Value
//   - connection_added: Connections (one)
//   - connection_removed: RemovedConnectionIDs (one)
//   - selection_changed: NodeID (new selection, empty when cleared), Previous
//
// Metadata is the recomputed flow metadata after the mutation.
type Event struct {
	Kind                 EventKind
	Node                 Node
	Nodes                []Node
	NodeID               string
	Previous             string
	Connections          []Connection
	RemovedConnectionIDs []string
	Field                string
	Value                string
	Metadata             Metadata
}

// Listener receives store events. It must not mutate the store.
type Listener func(Event)

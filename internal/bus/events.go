// Package bus carries canopy's tick activity to in-process subscribers and,
// through Observer, to external Groot2-style monitor clients.
package bus

import "time"

// EventType identifies the kind of tick event flowing through the bus.
type EventType string

const (
	// EventTickStart fires once at the start of every top-level tick.
	EventTickStart EventType = "tick_start"
	// EventTickEnd fires once a top-level tick has returned its status.
	EventTickEnd EventType = "tick_end"
	// EventNodeStateChange fires for every node whose verdict changed
	// during the tick, in depth-first order.
	EventNodeStateChange EventType = "node_state_change"
	// EventTreeError fires when a tick aborts with a hard error.
	EventTreeError EventType = "tree_error"
)

// Event is a single occurrence reported on the bus. Seq and Timestamp are
// stamped by Publish; the remaining fields depend on Type.
type Event struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// TreeID identifies the tree instance this event belongs to, letting a
	// monitor multiplex several running trees over one connection.
	TreeID string `json:"tree_id,omitempty"`

	// NodeUID/NodeName identify the node of an EventNodeStateChange: the
	// build-time numeric id and the display name from the XML.
	NodeUID  uint16 `json:"node_uid,omitempty"`
	NodeName string `json:"node_name,omitempty"`

	// PrevStatus/Status describe the transition for EventNodeStateChange;
	// Status alone carries the root verdict for EventTickEnd.
	PrevStatus string `json:"prev_status,omitempty"`
	Status     string `json:"status,omitempty"`

	// Message carries the error text for EventTreeError.
	Message string `json:"message,omitempty"`

	// DurationMs is the wall-clock duration of the tick for EventTickEnd.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

package events

// Event enumerates high-level topics inside the gateway.
type Event string

const (
	EventTrade              Event = "trade"
	EventTradeDropped       Event = "trade.dropped"
	EventStreamConnected    Event = "stream.connected"
	EventStreamDisconnected Event = "stream.disconnected"
	EventUpdateRejected     Event = "update.rejected"
)

// StreamStatus is the payload for stream lifecycle events.
type StreamStatus struct {
	VenueID string
	Reason  string
}

// RejectedUpdate is the payload when a venue update fails reconciliation.
type RejectedUpdate struct {
	VenueID      string
	VenueOrderID string
	Reason       string
}

package client

import "time"

// EventKind enumerates observable client events.
type EventKind string

const (
	EventConnected          EventKind = "connected"
	EventDisconnected       EventKind = "disconnected"
	EventReconnecting       EventKind = "reconnecting"
	EventAuthenticated      EventKind = "authenticated"
	EventLatency            EventKind = "latency"
	EventReconnectGaveUp    EventKind = "reconnect.gave_up"
	EventQueueItemAdded     EventKind = "queue.itemAdded"
	EventQueueItemDelivered EventKind = "queue.itemDelivered"
	EventQueueItemDropped   EventKind = "queue.itemDropped"
)

// Event is one observable client-side occurrence, consumed by UI layers.
type Event struct {
	Kind    EventKind
	Attempt int
	Delay   time.Duration
	Latency time.Duration
	Err     error
	Item    *OutboundItem
}

// Emitter receives client events. Implementations must not block.
type Emitter func(Event)

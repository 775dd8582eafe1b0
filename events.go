package realtime

type (
	// EventType names a local client event. The constants below cover the
	// events the client emits on its own; every valid inbound message
	// additionally produces one dynamic event named after its wire type.
	EventType string

	// Fields is the payload handed to listeners: the named fields of a
	// message, or the event-specific details for lifecycle events.
	Fields map[string]any
)

const (
	// EventConnected fires after a channel has been opened, with an empty payload.
	EventConnected EventType = "connected"
	// EventDisconnected fires on unsolicited closure of the channel.
	EventDisconnected EventType = "disconnected"
	// EventError carries transport and dial failures under the "error" key.
	EventError EventType = "error"
	// EventMaxReconnectAttempts fires once when the reconnect bound is
	// exhausted. No further automatic attempts are made after it.
	EventMaxReconnectAttempts EventType = "max_reconnect_attempts"
	// EventMessage is the generic event: it fires for every valid inbound
	// message and, unlike the type-specific event, its payload keeps the
	// "type" field.
	EventMessage EventType = "message"
)

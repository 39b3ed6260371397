// Package relay is the core of the gateway: it normalizes inbound platform
// events, manages the acknowledgment lifecycle of interactive ones, and
// delivers everything to the Engine asynchronously with bounded retries.
package relay

// EventKind identifies the normalized event category. The value doubles as
// the Engine ingress path segment (POST /ingress/{kind}).
type EventKind string

const (
	KindMessage   EventKind = "message"
	KindCommand   EventKind = "command"
	KindComponent EventKind = "interaction"
)

// Visibility controls whether an interactive response is visible to everyone
// or only to the invoking user.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityEphemeral Visibility = "ephemeral"
)

// EventContext identifies where an event happened and who caused it.
// GuildID is empty for direct messages.
type EventContext struct {
	GuildID   string
	ChannelID string
	UserID    string
	UserName  string
}

// MessagePayload carries the kind-specific fields of a chat message.
type MessagePayload struct {
	Content   string
	MessageID string
}

// CommandPayload carries a resolved slash-command invocation. Params is the
// closed set of arguments the registry declares for the command: user-typed
// arguments are already flattened to their stable ID strings, integer
// arguments to int64.
type CommandPayload struct {
	Command string
	Params  map[string]any
}

// ComponentPayload carries a button or select-menu interaction. Values is
// never nil; buttons produce an empty slice.
type ComponentPayload struct {
	CustomID string
	Values   []string
}

// Event is the normalized unit of relay. It is constructed once by the
// normalizer, owned by the dispatcher until handed to a delivery worker, and
// discarded after the delivery outcome is determined. Exactly one of the
// payload fields matching Kind is non-nil.
type Event struct {
	Kind      EventKind
	Context   EventContext
	Message   *MessagePayload
	Command   *CommandPayload
	Component *ComponentPayload

	// Ticket is present only for interactive kinds (command, component),
	// and only after a successful deferral.
	Ticket *Ticket
}

// DeliveryOutcome is the terminal result of a delivery attempt loop.
type DeliveryOutcome string

const (
	// OutcomeDelivered means an HTTP response arrived, success or rejection;
	// both are terminal from the relay's point of view.
	OutcomeDelivered DeliveryOutcome = "delivered"

	// OutcomeExhausted means every attempt failed at the transport level.
	OutcomeExhausted DeliveryOutcome = "exhausted"

	// OutcomeAborted means an unexpected error ended the loop without retry.
	OutcomeAborted DeliveryOutcome = "aborted"
)


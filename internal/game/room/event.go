// Package room provides the room registry: a mapping from room name to the
// set of sessions subscribed to it, with ordered per-room fan-out.
package room

// Kind identifies the type of an event published to a room.
type Kind string

// Event kinds.
const (
	// KindEnter announces that an identity joined the room.
	KindEnter Kind = "ENTER"
	// KindExit announces that an identity left the room.
	KindExit Kind = "EXIT"
	// KindChat carries a chat line spoken in the room.
	KindChat Kind = "chat.message"
)

// Event is a single message fanned out to the subscribers of a room.
type Event struct {
	// Kind is the event type.
	Kind Kind
	// Room is the room the event was published to. Set by the registry.
	Room string
	// Username is the identity that caused the event.
	Username string
	// Message is the composed chat text; empty for presence events.
	Message string
}

// IsPresence reports whether the event is a join or leave notification.
func (e Event) IsPresence() bool {
	return e.Kind == KindEnter || e.Kind == KindExit
}

// Subscriber receives events published to the rooms it has joined.
type Subscriber interface {
	// ID uniquely identifies the subscriber (one per connection).
	ID() string
	// Identity is the authenticated principal behind the subscriber.
	// Presence events are never delivered to a subscriber whose Identity
	// matches the event's Username.
	Identity() string
	// Deliver enqueues the event without blocking. It returns an error when
	// the subscriber cannot accept it (full or closed outbox). A subscriber
	// that overflows must stop accepting events and remove itself later,
	// never from inside Deliver.
	Deliver(Event) error
}

// Observer receives registry activity for instrumentation.
type Observer interface {
	EventPublished(kind string, delivered, failed int)
	GroupsChanged(n int)
}

type nopObserver struct{}

func (nopObserver) EventPublished(string, int, int) {}
func (nopObserver) GroupsChanged(int)               {}

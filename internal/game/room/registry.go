package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrNotSubscribed is returned when removing a subscriber that is not in the room.
var ErrNotSubscribed = errors.New("not subscribed")

// Registry owns every room group. All methods are safe for concurrent use.
//
// Lock order is always Registry.mu then group.mu. A group's mutex is held for
// the whole of a fan-out, so every subscriber of a room observes that room's
// events in the same order, and a publish never sees a half-applied join.
type Registry struct {
	mu       sync.Mutex
	groups   map[string]*group
	logger   *zap.Logger
	observer Observer
}

type group struct {
	mu      sync.Mutex
	members map[string]Subscriber // subscriber ID → subscriber
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report failed deliveries.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithObserver sets the instrumentation observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		groups:   make(map[string]*group),
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lockGroup returns the group for name with its mutex held, creating it when
// create is true. Returns nil if the group does not exist and create is false.
func (r *Registry) lockGroup(name string, create bool) *group {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		if !create {
			return nil
		}
		g = &group{members: make(map[string]Subscriber)}
		r.groups[name] = g
		r.observer.GroupsChanged(len(r.groups))
	}
	g.mu.Lock()
	return g
}

// Subscribe adds sub to the room. Subscribing twice is a no-op.
//
// Precondition: name must be non-empty; sub must be non-nil.
// Postcondition: sub receives every event published to name after this call returns.
func (r *Registry) Subscribe(name string, sub Subscriber) {
	g := r.lockGroup(name, true)
	defer g.mu.Unlock()
	g.members[sub.ID()] = sub
}

// Unsubscribe removes sub from the room. Empty groups are discarded.
//
// Postcondition: sub receives no further events for name. Returns
// ErrNotSubscribed if sub was not a member.
func (r *Registry) Unsubscribe(name string, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		return fmt.Errorf("room %q: %w", name, ErrNotSubscribed)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[sub.ID()]; !ok {
		return fmt.Errorf("room %q: %w", name, ErrNotSubscribed)
	}
	delete(g.members, sub.ID())
	if len(g.members) == 0 {
		delete(r.groups, name)
		r.observer.GroupsChanged(len(r.groups))
	}
	return nil
}

// Publish delivers ev to every current subscriber of the room. Presence events
// skip subscribers whose identity matches ev.Username; chat events reach
// everyone, the sender included.
//
// Postcondition: Returns the number of subscribers that accepted the event.
func (r *Registry) Publish(name string, ev Event) int {
	g := r.lockGroup(name, false)
	if g == nil {
		r.observer.EventPublished(string(ev.Kind), 0, 0)
		return 0
	}
	defer g.mu.Unlock()
	return r.fanOut(name, g, ev)
}

// Join announces sub to the room's current subscribers with an ENTER event and
// then adds it, as one step with respect to other publishes to the room.
//
// Postcondition: sub is subscribed; returns the number of ENTER deliveries.
func (r *Registry) Join(name string, sub Subscriber) int {
	g := r.lockGroup(name, true)
	defer g.mu.Unlock()

	n := r.fanOut(name, g, Event{Kind: KindEnter, Username: sub.Identity()})
	g.members[sub.ID()] = sub
	return n
}

// Leave announces sub's departure with an EXIT event and then removes it, as
// one step with respect to other publishes to the room.
//
// Postcondition: sub is no longer subscribed. Returns ErrNotSubscribed, without
// publishing, if sub was not a member.
func (r *Registry) Leave(name string, sub Subscriber) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		return 0, fmt.Errorf("room %q: %w", name, ErrNotSubscribed)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[sub.ID()]; !ok {
		return 0, fmt.Errorf("room %q: %w", name, ErrNotSubscribed)
	}
	n := r.fanOut(name, g, Event{Kind: KindExit, Username: sub.Identity()})
	delete(g.members, sub.ID())
	if len(g.members) == 0 {
		delete(r.groups, name)
		r.observer.GroupsChanged(len(r.groups))
	}
	return n, nil
}

// fanOut pushes ev to each member of g.
//
// Precondition: g.mu must be held.
func (r *Registry) fanOut(name string, g *group, ev Event) int {
	ev.Room = name
	delivered, failed := 0, 0
	for id, sub := range g.members {
		if ev.IsPresence() && sub.Identity() == ev.Username {
			continue
		}
		if err := sub.Deliver(ev); err != nil {
			failed++
			r.logger.Warn("dropping room event",
				zap.String("room", name),
				zap.String("kind", string(ev.Kind)),
				zap.String("subscriber", id),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	r.observer.EventPublished(string(ev.Kind), delivered, failed)
	return delivered
}

// Members returns the identities subscribed to the room, sorted.
//
// Postcondition: Returns a new slice (may be empty).
func (r *Registry) Members(name string) []string {
	g := r.lockGroup(name, false)
	if g == nil {
		return nil
	}
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.members))
	for _, sub := range g.members {
		out = append(out, sub.Identity())
	}
	sort.Strings(out)
	return out
}

// IsSubscribed reports whether the subscriber with id is in the room.
func (r *Registry) IsSubscribed(name, id string) bool {
	g := r.lockGroup(name, false)
	if g == nil {
		return false
	}
	defer g.mu.Unlock()
	_, ok := g.members[id]
	return ok
}

// GroupCount returns the number of rooms with at least one subscriber.
func (r *Registry) GroupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

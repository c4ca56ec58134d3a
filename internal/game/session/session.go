package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/twentytwenty/mud/internal/ansi"
	"github.com/twentytwenty/mud/internal/game/command"
	"github.com/twentytwenty/mud/internal/game/protocol"
	"github.com/twentytwenty/mud/internal/game/room"
	"github.com/twentytwenty/mud/internal/game/world"
)

var (
	// ErrNotOnline rejects chat from a session that has left its room.
	ErrNotOnline = command.Rejection("rejected: you are not online")
	// ErrUnauthenticated is returned when connecting without an identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoPlayer is returned when the identity has no player record.
	ErrNoPlayer = errors.New("identity has no player")
	// ErrClosed is returned when using a session after Disconnect.
	ErrClosed = errors.New("session closed")
)

// State is the lifecycle phase of a Session.
type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Broadcaster is the room registry surface a Session uses.
type Broadcaster interface {
	Subscribe(name string, sub room.Subscriber)
	Unsubscribe(name string, sub room.Subscriber) error
	Publish(name string, ev room.Event) int
	Join(name string, sub room.Subscriber) int
	Leave(name string, sub room.Subscriber) (int, error)
}

// Deps are the collaborators shared by every Session.
type Deps struct {
	Store      world.Store
	Rooms      Broadcaster
	Dispatcher *command.Dispatcher
	Logger     *zap.Logger
	Observer   Observer
	// GlobalRoom is subscribed by every online session. Defaults to "dungeon".
	// It carries no presence events; joins are announced in location rooms only.
	GlobalRoom string
	// OutboxSize bounds each session's outbound queue.
	OutboxSize int

	// evict disconnects a session whose outbox overflowed. Set by Manager so
	// the session is also untracked; nil disconnects it directly.
	evict func(s *Session)
}

func (d Deps) withDefaults() Deps {
	if d.Dispatcher == nil {
		d.Dispatcher = command.DefaultDispatcher()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.GlobalRoom == "" {
		d.GlobalRoom = "dungeon"
	}
	return d
}

// Session is the server-side state of one client connection. Commands are
// serialized by mu; Deliver only touches the outbox and may be called from any
// goroutine, including while mu is held by the same session.
type Session struct {
	id       string
	identity string
	deps     Deps
	outbox   *Outbox
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	closed     bool
	closeCode  int
	online     bool
	player     world.Player
	subscribed map[string]bool

	evictOnce sync.Once
}

// New creates a disconnected Session for identity.
//
// Precondition: deps.Store and deps.Rooms must be non-nil.
// Postcondition: Returns a Session with a fresh ID and an open outbox.
func New(identity string, deps Deps) *Session {
	deps = deps.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:         id,
		identity:   identity,
		deps:       deps,
		outbox:     NewOutbox(id, deps.OutboxSize),
		logger:     deps.Logger.With(zap.String("session_id", id), zap.String("identity", identity)),
		subscribed: make(map[string]bool),
	}
}

// ID implements room.Subscriber.
func (s *Session) ID() string { return s.id }

// Identity implements room.Subscriber.
func (s *Session) Identity() string { return s.identity }

// Outbox returns the queue drained by the connection writer.
func (s *Session) Outbox() *Outbox { return s.outbox }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Online reports whether the session is present in its location room.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Player returns the session's view of its player.
func (s *Session) Player() world.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Subscriptions returns the rooms the session is subscribed to, sorted.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.subscribed))
	for name := range s.subscribed {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms
}

// CloseCode returns the code passed to Disconnect, or 0 while connected.
// An overflowed session reports CloseOverflow as soon as its outbox closes.
func (s *Session) CloseCode() int {
	if s.outbox.Overflowed() {
		return CloseOverflow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

// Notify queues a frame that did not come from a command, such as a report
// about an undecodable inbound frame.
func (s *Session) Notify(frame protocol.Frame) error {
	return s.send(frame)
}

// Deliver implements room.Subscriber by encoding ev and queueing it.
func (s *Session) Deliver(ev room.Event) error {
	var frame protocol.Frame
	switch ev.Kind {
	case room.KindEnter, room.KindExit:
		frame = protocol.Presence(string(ev.Kind), ev.Username)
	case room.KindChat:
		frame = protocol.Chat(ev.Username, ev.Message)
	default:
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
	return s.send(frame)
}

func (s *Session) send(frame protocol.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	err = s.outbox.Push(data)
	if errors.Is(err, ErrOutboxFull) {
		s.evictLater()
	}
	return err
}

// evictLater disconnects the session with CloseOverflow on another goroutine.
// send may run under a room group's lock or under s.mu, and Disconnect needs
// both.
func (s *Session) evictLater() {
	s.evictOnce.Do(func() {
		s.logger.Warn("outbox overflowed, evicting session")
		go func() {
			if s.deps.evict != nil {
				s.deps.evict(s)
				return
			}
			s.Disconnect(CloseOverflow)
		}()
	})
}

// reply queues a frame for this session, logging failures.
func (s *Session) reply(frame protocol.Frame) {
	if err := s.send(frame); err != nil {
		s.logger.Warn("dropping reply", zap.Error(err))
	}
}

// Connect authenticates the session and places it in the world: a welcome
// banner, then the global room, then the player's location room with an ENTER
// announcement.
//
// Postcondition: On success the session is Active and online. A missing player
// is reported to the client and ErrNoPlayer is returned; the caller must then
// Disconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != StateDisconnected {
		return fmt.Errorf("connect in state %s", s.state)
	}
	if s.identity == "" {
		return ErrUnauthenticated
	}

	s.state = StateAuthenticating
	p, err := s.deps.Store.Player(ctx, s.identity)
	if err != nil {
		s.state = StateDisconnected
		if errors.Is(err, world.ErrPlayerNotFound) {
			s.reply(protocol.Text("Current User has no Player!"))
			return fmt.Errorf("%q: %w", s.identity, ErrNoPlayer)
		}
		return fmt.Errorf("loading player %q: %w", s.identity, err)
	}

	s.player = p
	s.online = true
	s.state = StateActive
	s.reply(protocol.Text(ansi.Colorize(ansi.BrightBlue, ansi.Banner)))

	s.deps.Rooms.Subscribe(s.deps.GlobalRoom, s)
	s.subscribed[s.deps.GlobalRoom] = true
	s.enter(p.Room)

	s.logger.Info("session connected", zap.String("room", p.Room))
	return nil
}

// enter joins a location room, announcing the session.
func (s *Session) enter(name string) {
	if name == s.deps.GlobalRoom {
		return
	}
	s.deps.Rooms.Join(name, s)
	s.subscribed[name] = true
}

// exit leaves a location room, announcing the departure.
func (s *Session) exit(name string) {
	if name == s.deps.GlobalRoom || !s.subscribed[name] {
		return
	}
	delete(s.subscribed, name)
	if _, err := s.deps.Rooms.Leave(name, s); err != nil {
		s.logger.Debug("leaving room", zap.String("room", name), zap.Error(err))
	}
}

// Dispatch runs one inbound command and queues its reply.
func (s *Session) Dispatch(ctx context.Context, in protocol.Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	label := "unknown"
	if cmd, ok := s.deps.Dispatcher.Resolve(in.Command); ok {
		label = cmd.Name
	}

	res := s.deps.Dispatcher.Dispatch(ctx, s, in)
	s.deps.Observer.CommandHandled(label, res.Failed())
	if res.Failed() {
		var rej command.Rejection
		if !errors.As(res.Err, &rej) {
			s.logger.Error("command failed", zap.String("command", label), zap.Error(res.Err))
		}
	}
	if frame, ok := res.Frame(); ok {
		s.reply(frame)
	}
	return nil
}

// Leave takes the session offline: its location room is told it left and
// the subscription is dropped. The global room is kept.
func (s *Session) Leave(_ context.Context) command.Result {
	if !s.online {
		return command.Reply("You are already offline.")
	}
	s.exit(s.player.Room)
	s.online = false
	return command.Reply("You leave " + ansi.Colorize(ansi.BrightGreen, s.player.Room) + " and go offline.")
}

// Send says text in the location room. The sender receives its own echo.
func (s *Session) Send(_ context.Context, text string) command.Result {
	if !s.online {
		return command.Fail(ErrNotOnline)
	}
	if text == "" {
		return command.Reply("Nothing to say.")
	}
	s.deps.Rooms.Publish(s.player.Room, room.Event{
		Kind:     room.KindChat,
		Username: s.identity,
		Message:  ansi.Colorize(ansi.BrightBlue, s.identity) + ` says, "` + text + `"`,
	})
	return command.NoReply
}

// Look describes the current room.
func (s *Session) Look(ctx context.Context) command.Result {
	view, err := s.deps.Store.Room(ctx, s.player.Room, s.player.Name)
	if err != nil {
		return command.Fail(fmt.Errorf("describing %q: %w", s.player.Room, err))
	}
	return command.Reply(Describe(view))
}

// Go moves the player through an exit of the current room. Subscriptions
// follow the move only if the session held the old room.
//
// Postcondition: On success the new room's members saw ENTER before the old
// room's members saw EXIT, and the reply is the new room's description.
func (s *Session) Go(ctx context.Context, target string) command.Result {
	if target == "" {
		return command.Reply("No room specified.")
	}

	from := s.player.Room
	moved, err := s.deps.Store.MovePlayer(ctx, s.identity, target)
	if errors.Is(err, world.ErrNoSuchExit) {
		return command.Reply("Invalid room.")
	}
	if err != nil {
		return command.Fail(fmt.Errorf("moving to %q: %w", target, err))
	}
	s.player = moved

	if moved.Room != from && s.subscribed[from] {
		s.enter(moved.Room)
		s.exit(from)
	}
	s.logger.Debug("moved", zap.String("from", from), zap.String("room", moved.Room))
	return s.Look(ctx)
}

// Disconnect releases every subscription, closes the outbox and makes the
// session unusable. Teardown errors are logged and swallowed.
//
// Postcondition: The session is Disconnected and subscribed to nothing.
// Calling Disconnect again is a no-op.
func (s *Session) Disconnect(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.outbox.Overflowed() {
		code = CloseOverflow
	}
	s.closeCode = code

	if s.online {
		s.exit(s.player.Room)
	}
	for name := range s.subscribed {
		if err := s.deps.Rooms.Unsubscribe(name, s); err != nil {
			s.logger.Debug("unsubscribing", zap.String("room", name), zap.Error(err))
		}
		delete(s.subscribed, name)
	}

	s.online = false
	s.state = StateDisconnected
	s.outbox.Close()
	s.logger.Info("session disconnected", zap.Int("code", code))
}

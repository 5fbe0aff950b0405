package taprace

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// Sink receives encoded events addressed to a single connection.
type Sink interface {
	Deliver(connID string, payload []byte)
}

// Loop serialises every request and timer callback onto one goroutine, so
// room state is never mutated concurrently.
type Loop struct {
	engine *Engine
	reg    *Registry
	clock  clock.Clock
	sink   Sink
	logf   func(format string, args ...any)

	countdownFrom int
	maxDuration   time.Duration

	work chan func()
	done chan struct{}
}

type LoopOption func(*Loop)

// WithLogf sets the function used for game log lines.
func WithLogf(f func(format string, args ...any)) LoopOption {
	return func(l *Loop) {
		l.logf = f
	}
}

// WithCountdown sets the first countdown tick value.
func WithCountdown(from int) LoopOption {
	return func(l *Loop) {
		l.countdownFrom = from
	}
}

// WithMaxGameDuration sets the hard timeout after which a playing game is
// forced to end. Zero disables it.
func WithMaxGameDuration(d time.Duration) LoopOption {
	return func(l *Loop) {
		l.maxDuration = d
	}
}

func NewLoop(engine *Engine, sink Sink, opts ...LoopOption) *Loop {
	l := &Loop{
		engine:        engine,
		reg:           engine.reg,
		clock:         engine.clock,
		sink:          sink,
		logf:          func(string, ...any) {},
		countdownFrom: CountdownFrom,
		maxDuration:   MaxGameDuration,
		work:          make(chan func(), 256),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run processes work until ctx is cancelled. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-l.work:
			f()
		}
	}
}

func (l *Loop) post(f func()) bool {
	select {
	case l.work <- f:
		return true
	case <-l.done:
		return false
	}
}

// Submit queues a request from connID.
func (l *Loop) Submit(connID string, req Request) {
	l.post(func() { l.handle(connID, req) })
}

// Disconnect queues the departure of connID. It is a no-op for connections
// that never joined a room.
func (l *Loop) Disconnect(connID string) {
	l.post(func() { l.leave(connID) })
}

// Do runs f on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, f func(*Engine)) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		f(l.engine)
	}) {
		return errors.New("loop stopped")
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) handle(connID string, req Request) {
	switch r := req.(type) {
	case CreateRoom:
		l.createRoom(connID, r)
	case JoinRoom:
		l.joinRoom(connID, r)
	case LeaveRoom:
		l.leave(connID)
	case ToggleReady:
		l.toggleReady(connID, r)
	case StartGame:
		l.startGame(connID)
	case Tap:
		l.tap(connID)
	case PlayAgain:
		l.playAgain(connID)
	default:
		l.logf("Ignoring %T from %s", req, connID)
	}
}

func (l *Loop) createRoom(connID string, r CreateRoom) {
	room, p, err := l.reg.CreateRoom(connID, r.DisplayName, r.MaxPlayers)
	if err != nil {
		l.reject(connID, err)
		return
	}

	l.logf("Room %s created by %q (max %d players)", room.Code, p.Name, room.MaxPlayers)

	l.toConn(connID, RoomCreated{RoomCode: room.Code, PlayerID: p.ID})
	l.toConn(connID, RoomUpdated{Room: room})
}

func (l *Loop) joinRoom(connID string, r JoinRoom) {
	room, p, err := l.reg.JoinRoom(r.RoomCode, connID, r.DisplayName)
	if err != nil {
		l.reject(connID, err)
		return
	}

	l.logf("Player %q joined %s in slot %d", p.Name, room.Code, p.Slot)

	l.toConn(connID, RoomJoined{RoomCode: room.Code, PlayerID: p.ID, Slot: p.Slot})
	l.toRoom(room, RoomUpdated{Room: room})
	l.toOthers(room, connID, PlayerJoined{Player: p})
}

func (l *Loop) leave(connID string) {
	d, ok := l.reg.LeaveRoom(connID)
	if !ok {
		return
	}

	if d.Room == nil {
		l.logf("Room %s closed", d.Code)
		return
	}

	l.logf("Player %s left %s", d.PlayerID, d.Code)
	if d.HostChanged {
		l.logf("Host of %s is now %s", d.Code, d.Room.HostID)
	}

	l.toRoom(d.Room, PlayerLeft{PlayerID: d.PlayerID})
	l.toRoom(d.Room, RoomUpdated{Room: d.Room})

	if d.Room.State == StatePlaying {
		l.endGame(d.Code, false)
	}
}

func (l *Loop) toggleReady(connID string, r ToggleReady) {
	room, p, err := l.reg.ToggleReady(connID, r.Ready)
	if errors.Is(err, ErrNotInRoom) {
		return
	}
	if err != nil {
		l.reject(connID, err)
		return
	}

	l.toRoom(room, PlayerReadyChanged{PlayerID: p.ID, Ready: p.Ready})
	l.toRoom(room, RoomUpdated{Room: room})
}

func (l *Loop) startGame(connID string) {
	room, err := l.engine.CanStart(connID)
	if errors.Is(err, ErrNotInRoom) {
		return
	}
	if err != nil {
		l.reject(connID, err)
		return
	}

	if err := l.engine.BeginCountdown(room); err != nil {
		l.reject(connID, err)
		return
	}

	l.logf("Countdown started in %s with %d players", room.Code, len(room.Players))

	l.toRoom(room, RoomUpdated{Room: room})
	l.scheduleTick(room, l.countdownFrom)
}

func (l *Loop) scheduleTick(room *Room, value int) {
	gen := room.gen
	room.countdown = l.clock.AfterFunc(time.Second, func() {
		l.post(func() { l.tick(room, gen, value) })
	})
}

func (l *Loop) tick(room *Room, gen uint64, value int) {
	if l.stale(room, gen) {
		return
	}
	room.countdown = nil

	l.toRoom(room, CountdownTick{Value: value})

	if value > 0 {
		l.scheduleTick(room, value-1)
		return
	}

	if err := l.engine.BeginPlaying(room); err != nil {
		l.logf("Cannot start %s: %v", room.Code, err)
		return
	}

	l.logf("Game started in %s", room.Code)

	l.toRoom(room, GameStarted{})
	l.toRoom(room, RoomUpdated{Room: room})

	if l.maxDuration > 0 {
		room.deadline = l.clock.AfterFunc(l.maxDuration, func() {
			l.post(func() { l.expire(room, gen) })
		})
	}
}

func (l *Loop) expire(room *Room, gen uint64) {
	if l.stale(room, gen) {
		return
	}
	room.deadline = nil

	l.logf("Game in %s hit the %s time limit", room.Code, l.maxDuration)

	l.endGame(room.Code, true)
}

// stale reports whether a timer callback belongs to a room that has since
// been deleted, reset or ended.
func (l *Loop) stale(room *Room, gen uint64) bool {
	return room.gen != gen || l.reg.Room(room.Code) != room
}

func (l *Loop) tap(connID string) {
	res, ok := l.engine.HandleTap(connID)
	if !ok {
		return
	}

	room, p := res.Room, res.Player

	l.toRoom(room, PlayerProgress{PlayerID: p.ID, Progress: p.Progress, Taps: p.Taps})

	if !res.Finished {
		return
	}

	l.logf("Player %q finished %s in position %d", p.Name, room.Code, p.position())

	l.toRoom(room, PlayerFinished{PlayerID: p.ID, Position: p.position(), FinishTime: *p.FinishTime})
	l.endGame(room.Code, false)
}

func (l *Loop) endGame(code string, force bool) {
	res, err := l.engine.CheckGameEnd(code, force)
	if err != nil || !res.Ended {
		return
	}

	room := l.reg.Room(code)

	l.logf("Game ended in %s after %s with %d winners", code, res.Duration.Round(time.Millisecond), len(res.Winners))

	l.toRoom(room, GameEnded{
		Winners:    res.Winners,
		AllPlayers: res.AllPlayers,
		DurationMS: res.Duration.Milliseconds(),
	})
	l.toRoom(room, RoomUpdated{Room: room})
}

func (l *Loop) playAgain(connID string) {
	room := l.reg.RoomByConn(connID)
	p := l.reg.PlayerByConn(connID)
	if p == nil {
		return
	}
	if !room.isHost(p) {
		l.reject(connID, ErrNotHost)
		return
	}

	if _, err := l.engine.Reset(room.Code); err != nil {
		l.reject(connID, err)
		return
	}

	l.logf("Room %s reset for another round", room.Code)

	l.toRoom(room, RoomUpdated{Room: room})
}

func (l *Loop) reject(connID string, err error) {
	l.toConn(connID, Error{Message: err.Error()})
}

func (l *Loop) encode(ev Event) []byte {
	b, err := EncodeEvent(ev)
	if err != nil {
		l.logf("Unable to encode %s: %v", ev.EventType(), err)
		return nil
	}
	return b
}

func (l *Loop) toConn(connID string, ev Event) {
	if b := l.encode(ev); b != nil {
		l.sink.Deliver(connID, b)
	}
}

func (l *Loop) toRoom(room *Room, ev Event) {
	l.toOthers(room, "", ev)
}

func (l *Loop) toOthers(room *Room, except string, ev Event) {
	b := l.encode(ev)
	if b == nil {
		return
	}
	for _, id := range room.connIDs() {
		if id == except {
			continue
		}
		l.sink.Deliver(id, b)
	}
}

package taprace

import (
	"slices"
	"time"

	"github.com/benbjohnson/clock"
)

// Engine runs the per-room match state machine on top of a Registry.
type Engine struct {
	reg   *Registry
	clock clock.Clock
}

func NewEngine(reg *Registry, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		reg:   reg,
		clock: clk,
	}
}

func (e *Engine) Registry() *Registry {
	return e.reg
}

// TapResult is the outcome of an accepted tap.
type TapResult struct {
	Room   *Room
	Player *Player
	// Finished is true only for the tap that took the player to 100%.
	Finished bool
}

// EndResult is the outcome of CheckGameEnd.
type EndResult struct {
	Ended      bool
	Winners    []*Player
	AllPlayers []*Player
	Duration   time.Duration
}

// CanStart reports whether connID may start its room's game: it must be the
// host of a waiting room with at least two players who are all ready.
func (e *Engine) CanStart(connID string) (*Room, error) {
	room, p := e.reg.resolve(connID)
	switch {
	case p == nil:
		return nil, ErrNotInRoom
	case !room.isHost(p):
		return nil, ErrNotHost
	case room.State != StateWaiting:
		return nil, ErrWrongState
	case len(room.Players) < MinCapacity:
		return nil, ErrNotEnoughPlayers
	case !room.allReady():
		return nil, ErrPlayersNotReady
	}
	return room, nil
}

// BeginCountdown moves a waiting room into countdown and clears every
// player's race state.
func (e *Engine) BeginCountdown(room *Room) error {
	if room.State != StateWaiting {
		return ErrWrongState
	}

	room.State = StateCountdown
	room.FinishedCount = 0
	room.StartedAt = time.Time{}
	for _, p := range room.Players {
		p.clearRace()
	}

	return nil
}

// BeginPlaying moves a room out of countdown and records the start time.
func (e *Engine) BeginPlaying(room *Room) error {
	if room.State != StateCountdown {
		return ErrWrongState
	}

	room.State = StatePlaying
	room.StartedAt = e.clock.Now()

	return nil
}

// HandleTap scores one tap from connID. It returns false when the tap is
// dropped: no room, not playing, already finished, or faster than
// MinTapInterval since the player's last accepted tap.
func (e *Engine) HandleTap(connID string) (TapResult, bool) {
	room, p := e.reg.resolve(connID)
	if p == nil || room.State != StatePlaying || p.Finished {
		return TapResult{}, false
	}

	now := e.clock.Now()
	if !p.lastTap.IsZero() && now.Sub(p.lastTap) < MinTapInterval {
		return TapResult{}, false
	}
	p.lastTap = now

	p.Taps++
	p.Progress = progressFor(p.Taps, room.TapsToWin)

	res := TapResult{Room: room, Player: p}

	if p.Progress >= 100 {
		room.FinishedCount++
		p.finish(room.FinishedCount, &now)
		res.Finished = true
	}

	return res, true
}

// CheckGameEnd ends a playing room when enough players have finished, or
// unconditionally when force is set. A room that is not playing is left
// untouched and reported as not ended.
func (e *Engine) CheckGameEnd(code string, force bool) (EndResult, error) {
	room := e.reg.Room(code)
	if room == nil {
		return EndResult{}, ErrRoomNotFound
	}

	if room.State != StatePlaying || !(force || thresholdReached(room)) {
		return EndResult{AllPlayers: room.Players}, nil
	}

	room.State = StateFinished
	room.stopTasks()

	if force {
		rankUnfinished(room)
	}

	res := EndResult{
		Ended:      true,
		Winners:    podium(room),
		AllPlayers: room.Players,
	}
	if !room.StartedAt.IsZero() {
		res.Duration = e.clock.Since(room.StartedAt)
	}

	return res, nil
}

// thresholdReached is true once every present player has finished, or once
// one player has finished in a 2-player room, or min(3, N) otherwise.
func thresholdReached(room *Room) bool {
	total := len(room.Players)
	done := room.finishedPresent()

	needed := min(PodiumSize, total)
	if total == 2 {
		needed = 1
	}

	return done >= total || done >= needed
}

// rankUnfinished gives every unfinished player a position after the highest
// one already assigned, most taps first. Ties keep join order.
func rankUnfinished(room *Room) {
	var (
		unfinished []*Player
		next       = 1
	)
	for _, p := range room.Players {
		if p.Finished {
			next = max(next, p.position()+1)
			continue
		}
		unfinished = append(unfinished, p)
	}

	slices.SortStableFunc(unfinished, func(a, b *Player) int {
		return b.Taps - a.Taps
	})

	for _, p := range unfinished {
		p.finish(next, nil)
		next++
	}

	room.FinishedCount = room.finishedPresent()
}

// podium returns the players placed 1..PodiumSize in position order.
func podium(room *Room) []*Player {
	winners := make([]*Player, 0, PodiumSize)
	for _, p := range room.Players {
		if p.Finished && p.position() >= 1 && p.position() <= PodiumSize {
			winners = append(winners, p)
		}
	}

	slices.SortStableFunc(winners, func(a, b *Player) int {
		return a.position() - b.position()
	})

	return winners
}

// Reset returns a finished room to waiting for another round. Code, players,
// slots and host are kept.
func (e *Engine) Reset(code string) (*Room, error) {
	room := e.reg.Room(code)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if room.State != StateFinished {
		return nil, ErrWrongState
	}

	room.stopTasks()
	room.State = StateWaiting
	room.FinishedCount = 0
	room.StartedAt = time.Time{}
	for _, p := range room.Players {
		p.clearRace()
		p.Ready = false
	}

	return room, nil
}

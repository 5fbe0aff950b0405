package taprace

import (
	"time"

	"github.com/benbjohnson/clock"
)

const (
	TapsToWin        = 100
	MinCapacity      = 2
	MaxCapacity      = 10
	MaxTapsPerSecond = 20
	MinTapInterval   = time.Second / MaxTapsPerSecond
	CountdownFrom    = 3
	MaxGameDuration  = 90 * time.Second
	PodiumSize       = 3
)

// GameState is the phase a room's match is in.
//
//	waiting → countdown → playing → finished → waiting (play again)
type GameState string

const (
	StateWaiting   GameState = "waiting"
	StateCountdown GameState = "countdown"
	StatePlaying   GameState = "playing"
	StateFinished  GameState = "finished"
)

// Room is one isolated game session.
type Room struct {
	Code          string    `json:"code"`
	HostID        string    `json:"host_id"`
	Players       []*Player `json:"players"`
	MaxPlayers    int       `json:"max_players"`
	State         GameState `json:"state"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	TapsToWin     int       `json:"taps_to_win"`
	FinishedCount int       `json:"finished_count"`

	// countdown and deadline are only touched from the Loop goroutine.
	countdown *clock.Timer
	deadline  *clock.Timer
	gen       uint64
}

func clampCapacity(n int) int {
	return min(max(n, MinCapacity), MaxCapacity)
}

func (r *Room) playerByConn(connID string) *Player {
	for _, p := range r.Players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) player(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) isHost(p *Player) bool {
	return p != nil && p.ID == r.HostID
}

func (r *Room) allReady() bool {
	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) finishedPresent() int {
	n := 0
	for _, p := range r.Players {
		if p.Finished {
			n++
		}
	}
	return n
}

// stopTasks cancels any pending countdown or deadline and invalidates
// callbacks that have already fired but not yet run.
func (r *Room) stopTasks() {
	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}
	if r.deadline != nil {
		r.deadline.Stop()
		r.deadline = nil
	}
	r.gen++
}

func (r *Room) connIDs() []string {
	out := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p.ConnID)
	}
	return out
}

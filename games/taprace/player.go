package taprace

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const maxNameLength = 24

var palette = [...]string{
	"#EF4444", "#3B82F6", "#10B981", "#F59E0B", "#8B5CF6",
	"#F97316", "#EC4899", "#06B6D4", "#84CC16", "#6366F1",
}

// Player is one connection's seat inside a room.
type Player struct {
	ID             string     `json:"id"`
	ConnID         string     `json:"-"`
	Slot           int        `json:"slot"`
	Name           string     `json:"name"`
	Color          string     `json:"color"`
	Progress       float64    `json:"progress"`
	Taps           int        `json:"taps"`
	Ready          bool       `json:"ready"`
	Finished       bool       `json:"finished"`
	FinishPosition *int       `json:"finish_position"`
	FinishTime     *time.Time `json:"finish_time"`

	lastTap time.Time
}

func newPlayer(id, connID string, slot int, name string) *Player {
	return &Player{
		ID:     id,
		ConnID: connID,
		Slot:   slot,
		Name:   cleanName(name, slot),
		Color:  colorForSlot(slot),
	}
}

func colorForSlot(slot int) string {
	return palette[slot%len(palette)]
}

// progressFor returns the completion percentage for taps out of tapsToWin, clamped to [0,100].
func progressFor(taps, tapsToWin int) float64 {
	if tapsToWin <= 0 || taps <= 0 {
		return 0
	}
	return math.Min(100, 100*float64(taps)/float64(tapsToWin))
}

func cleanName(name string, slot int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Player " + strconv.Itoa(slot+1)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

// finish marks the player done at the given position.
func (p *Player) finish(position int, at *time.Time) {
	p.Finished = true
	p.FinishPosition = &position
	p.FinishTime = at
}

// clearRace zeroes everything a single race writes.
func (p *Player) clearRace() {
	p.Progress = 0
	p.Taps = 0
	p.Finished = false
	p.FinishPosition = nil
	p.FinishTime = nil
	p.lastTap = time.Time{}
}

func (p *Player) position() int {
	if p.FinishPosition == nil {
		return 0
	}
	return *p.FinishPosition
}

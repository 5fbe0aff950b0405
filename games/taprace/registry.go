package taprace

import (
	"github.com/google/uuid"
)

// Registry owns room membership: code → room and connection → room code.
// It knows nothing about match timing.
type Registry struct {
	rooms map[string]*Room
	conns map[string]string

	newCode func() string
	newID   func() string
}

type RegistryOption func(*Registry)

// WithCodeGenerator replaces the crypto/rand room code source.
func WithCodeGenerator(f func() string) RegistryOption {
	return func(r *Registry) {
		r.newCode = f
	}
}

// WithIDGenerator replaces the uuid player id source.
func WithIDGenerator(f func() string) RegistryOption {
	return func(r *Registry) {
		r.newID = f
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms:   make(map[string]*Room),
		conns:   make(map[string]string),
		newCode: randomCode,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Departure describes the result of a leave.
type Departure struct {
	Code     string
	PlayerID string
	// Room is nil when the departing player was the last one and the room is gone.
	Room        *Room
	HostChanged bool
}

// CreateRoom opens a room with connID as its host in slot 0.
func (r *Registry) CreateRoom(connID, displayName string, capacity int) (*Room, *Player, error) {
	if _, ok := r.conns[connID]; ok {
		return nil, nil, ErrAlreadyInRoom
	}

	code := r.uniqueCode()
	host := newPlayer(r.newID(), connID, 0, displayName)

	room := &Room{
		Code:       code,
		HostID:     host.ID,
		Players:    []*Player{host},
		MaxPlayers: clampCapacity(capacity),
		State:      StateWaiting,
		TapsToWin:  TapsToWin,
	}

	r.rooms[code] = room
	r.conns[connID] = code

	return room, host, nil
}

func (r *Registry) uniqueCode() string {
	for {
		code := r.newCode()
		if _, exists := r.rooms[code]; !exists {
			return code
		}
	}
}

// JoinRoom appends a player for connID to the room identified by code.
func (r *Registry) JoinRoom(code, connID, displayName string) (*Room, *Player, error) {
	if _, ok := r.conns[connID]; ok {
		return nil, nil, ErrAlreadyInRoom
	}

	room := r.Room(code)
	if room == nil || room.State != StateWaiting || len(room.Players) >= room.MaxPlayers {
		return nil, nil, ErrNotJoinable
	}

	slot := len(room.Players)
	p := newPlayer(r.newID(), connID, slot, displayName)
	room.Players = append(room.Players, p)
	r.conns[connID] = room.Code

	return room, p, nil
}

// LeaveRoom removes connID's player from its room. The second return value is
// false when the connection was not in a room, which makes the call safe to
// repeat on disconnect.
func (r *Registry) LeaveRoom(connID string) (Departure, bool) {
	code, ok := r.conns[connID]
	if !ok {
		return Departure{}, false
	}
	delete(r.conns, connID)

	room, ok := r.rooms[code]
	if !ok {
		return Departure{}, false
	}

	idx := -1
	for i, p := range room.Players {
		if p.ConnID == connID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Departure{}, false
	}

	left := room.Players[idx]
	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)

	d := Departure{Code: code, PlayerID: left.ID}

	if len(room.Players) == 0 {
		room.stopTasks()
		delete(r.rooms, code)
		return d, true
	}

	if room.HostID == left.ID {
		room.HostID = room.Players[0].ID
		d.HostChanged = true
	}
	d.Room = room

	return d, true
}

// ToggleReady sets connID's ready flag. Only allowed while the room is waiting.
func (r *Registry) ToggleReady(connID string, ready bool) (*Room, *Player, error) {
	room, p := r.resolve(connID)
	if p == nil {
		return nil, nil, ErrNotInRoom
	}
	if room.State != StateWaiting {
		return nil, nil, ErrWrongState
	}

	p.Ready = ready

	return room, p, nil
}

// Room looks a room up by code, ignoring case.
func (r *Registry) Room(code string) *Room {
	return r.rooms[NormalizeCode(code)]
}

func (r *Registry) RoomByConn(connID string) *Room {
	code, ok := r.conns[connID]
	if !ok {
		return nil
	}
	return r.rooms[code]
}

func (r *Registry) PlayerByConn(connID string) *Player {
	_, p := r.resolve(connID)
	return p
}

func (r *Registry) resolve(connID string) (*Room, *Player) {
	room := r.RoomByConn(connID)
	if room == nil {
		return nil, nil
	}
	return room, room.playerByConn(connID)
}

// Len returns the number of active rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// Seated returns the number of connections currently in a room.
func (r *Registry) Seated() int {
	return len(r.conns)
}

package taprace

import "time"

// Request is an inbound message from one connection. The set of
// implementations is closed to this package.
type Request interface {
	requestType() string
}

type CreateRoom struct {
	DisplayName string `json:"display_name"`
	MaxPlayers  int    `json:"max_players"`
}

type JoinRoom struct {
	RoomCode    string `json:"room_code"`
	DisplayName string `json:"display_name"`
}

type LeaveRoom struct{}

type ToggleReady struct {
	Ready bool `json:"ready"`
}

type StartGame struct{}

type Tap struct{}

type PlayAgain struct{}

func (CreateRoom) requestType() string  { return "create-room" }
func (JoinRoom) requestType() string    { return "join-room" }
func (LeaveRoom) requestType() string   { return "leave-room" }
func (ToggleReady) requestType() string { return "toggle-ready" }
func (StartGame) requestType() string   { return "start-game" }
func (Tap) requestType() string         { return "tap" }
func (PlayAgain) requestType() string   { return "play-again" }

// Event is an outbound notification. The set of implementations is closed
// to this package.
type Event interface {
	EventType() string
}

type RoomCreated struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
}

type RoomJoined struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
	Slot     int    `json:"slot"`
}

type RoomUpdated struct {
	Room *Room `json:"room"`
}

type PlayerJoined struct {
	Player *Player `json:"player"`
}

type PlayerLeft struct {
	PlayerID string `json:"player_id"`
}

type PlayerReadyChanged struct {
	PlayerID string `json:"player_id"`
	Ready    bool   `json:"ready"`
}

type CountdownTick struct {
	Value int `json:"value"`
}

type GameStarted struct{}

type PlayerProgress struct {
	PlayerID string  `json:"player_id"`
	Progress float64 `json:"progress"`
	Taps     int     `json:"taps"`
}

type PlayerFinished struct {
	PlayerID   string    `json:"player_id"`
	Position   int       `json:"position"`
	FinishTime time.Time `json:"finish_time"`
}

type GameEnded struct {
	Winners    []*Player `json:"winners"`
	AllPlayers []*Player `json:"all_players"`
	DurationMS int64     `json:"duration_ms"`
}

type Error struct {
	Message string `json:"message"`
}

func (RoomCreated) EventType() string        { return "room-created" }
func (RoomJoined) EventType() string         { return "room-joined" }
func (RoomUpdated) EventType() string        { return "room-updated" }
func (PlayerJoined) EventType() string       { return "player-joined" }
func (PlayerLeft) EventType() string         { return "player-left" }
func (PlayerReadyChanged) EventType() string { return "player-ready-changed" }
func (CountdownTick) EventType() string      { return "countdown-tick" }
func (GameStarted) EventType() string        { return "game-started" }
func (PlayerProgress) EventType() string     { return "player-progress" }
func (PlayerFinished) EventType() string     { return "player-finished" }
func (GameEnded) EventType() string          { return "game-ended" }
func (Error) EventType() string              { return "error" }

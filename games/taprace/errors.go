package taprace

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotJoinable      = errors.New("room not found, full, or game already started")
	ErrAlreadyInRoom    = errors.New("already in a room")
	ErrNotInRoom        = errors.New("not in a room")
	ErrWrongState       = errors.New("not allowed in the current game state")
	ErrNotHost          = errors.New("only the host can do that")
	ErrNotEnoughPlayers = errors.New("at least 2 players are needed")
	ErrPlayersNotReady  = errors.New("not every player is ready")
	ErrUnknownRequest   = errors.New("unknown request type")
	ErrMalformedRequest = errors.New("malformed request")
)

package taprace

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// DecodeRequest parses a {"type": ..., "data": ...} frame into its request variant.
func DecodeRequest(b []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	var req Request
	switch env.Type {
	case "create-room":
		var r CreateRoom
		if err := decodeData(env.Data, &r); err != nil {
			return nil, err
		}
		req = r
	case "join-room":
		var r JoinRoom
		if err := decodeData(env.Data, &r); err != nil {
			return nil, err
		}
		req = r
	case "toggle-ready":
		var r ToggleReady
		if err := decodeData(env.Data, &r); err != nil {
			return nil, err
		}
		req = r
	case "leave-room":
		req = LeaveRoom{}
	case "start-game":
		req = StartGame{}
	case "tap":
		req = Tap{}
	case "play-again":
		req = PlayAgain{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, env.Type)
	}

	return req, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return nil
}

// EncodeEvent renders ev as a {"type": ..., "data": ...} frame.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(outEnvelope{Type: ev.EventType(), Data: ev})
}

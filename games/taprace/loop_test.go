package taprace_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/tapblitz/games/taprace"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type recorder struct {
	mu     sync.Mutex
	frames map[string][]frame
}

func newRecorder() *recorder {
	return &recorder{frames: make(map[string][]frame)}
}

func (r *recorder) Deliver(connID string, payload []byte) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		panic(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[connID] = append(r.frames[connID], f)
}

func (r *recorder) types(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []string{}
	for _, f := range r.frames[connID] {
		out = append(out, f.Type)
	}
	return out
}

func (r *recorder) count(connID, typ string) int {
	n := 0
	for _, got := range r.types(connID) {
		if got == typ {
			n++
		}
	}
	return n
}

func (r *recorder) last(t *testing.T, connID, typ string, v any) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	frames := r.frames[connID]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == typ {
			require.NoError(t, json.Unmarshal(frames[i].Data, v))
			return
		}
	}
	t.Fatalf("no %s frame for %s", typ, connID)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = make(map[string][]frame)
}

func startLoop(t *testing.T, opts ...taprace.LoopOption) (*taprace.Loop, *clock.Mock, *recorder) {
	t.Helper()

	mock := clock.NewMock()
	e := taprace.NewEngine(taprace.NewRegistry(), mock)
	rec := newRecorder()
	l := taprace.NewLoop(e, rec, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return l, mock, rec
}

// flush waits until everything submitted so far has been processed.
func flush(t *testing.T, l *taprace.Loop) {
	t.Helper()
	require.NoError(t, l.Do(context.Background(), func(*taprace.Engine) {}))
}

type roomInfo struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
}

type roomSnapshot struct {
	Room struct {
		Code    string `json:"code"`
		HostID  string `json:"host_id"`
		State   string `json:"state"`
		Players []struct {
			ID             string `json:"id"`
			Ready          bool   `json:"ready"`
			Taps           int    `json:"taps"`
			FinishPosition *int   `json:"finish_position"`
		} `json:"players"`
	} `json:"room"`
}

type gameEnded struct {
	Winners []struct {
		ID             string `json:"id"`
		FinishPosition int    `json:"finish_position"`
	} `json:"winners"`
	AllPlayers []json.RawMessage `json:"all_players"`
	DurationMS int64             `json:"duration_ms"`
}

// lobby creates a room on c0, seats c1..c(n-1) and readies everyone.
func lobby(t *testing.T, l *taprace.Loop, rec *recorder, n int) (string, []string) {
	t.Helper()

	l.Submit("c0", taprace.CreateRoom{DisplayName: "p0", MaxPlayers: n})
	flush(t, l)

	var created roomInfo
	rec.last(t, "c0", "room-created", &created)
	ids := []string{created.PlayerID}

	for i := 1; i < n; i++ {
		l.Submit(conn(i), taprace.JoinRoom{RoomCode: created.RoomCode, DisplayName: "p"})
		flush(t, l)

		var joined roomInfo
		rec.last(t, conn(i), "room-joined", &joined)
		ids = append(ids, joined.PlayerID)
	}

	for i := range n {
		l.Submit(conn(i), taprace.ToggleReady{Ready: true})
	}
	flush(t, l)

	return created.RoomCode, ids
}

// countdown starts the game from c0 and advances the clock through every tick.
func countdown(t *testing.T, l *taprace.Loop, mock *clock.Mock, rec *recorder, from int) {
	t.Helper()

	l.Submit("c0", taprace.StartGame{})
	flush(t, l)

	for i := 0; i <= from; i++ {
		mock.Add(time.Second)
		require.Eventually(t, func() bool {
			return rec.count("c0", "countdown-tick") == i+1
		}, time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return rec.count("c0", "game-started") == 1
	}, time.Second, time.Millisecond)
}

func tapVia(t *testing.T, l *taprace.Loop, mock *clock.Mock, connID string, n int) {
	t.Helper()
	for range n {
		mock.Add(taprace.MinTapInterval)
		l.Submit(connID, taprace.Tap{})
		flush(t, l)
	}
}

func TestLoop_Lobby(t *testing.T) {
	l, _, rec := startLoop(t)

	l.Submit("c0", taprace.CreateRoom{DisplayName: "Ada", MaxPlayers: 3})
	flush(t, l)
	assert.Equal(t, []string{"room-created", "room-updated"}, rec.types("c0"))

	var created roomInfo
	rec.last(t, "c0", "room-created", &created)
	require.True(t, taprace.ValidCode(created.RoomCode))

	l.Submit("c1", taprace.JoinRoom{RoomCode: strings.ToLower(created.RoomCode), DisplayName: "Bob"})
	flush(t, l)
	assert.Equal(t, []string{"room-joined", "room-updated"}, rec.types("c1"))
	assert.Equal(t, []string{"room-created", "room-updated", "room-updated", "player-joined"}, rec.types("c0"))

	var snap roomSnapshot
	rec.last(t, "c1", "room-updated", &snap)
	assert.Equal(t, created.RoomCode, snap.Room.Code)
	assert.Equal(t, created.PlayerID, snap.Room.HostID)
	assert.Equal(t, "waiting", snap.Room.State)
	require.Len(t, snap.Room.Players, 2)

	l.Submit("c2", taprace.JoinRoom{RoomCode: "ZZZZZZ", DisplayName: "Eve"})
	flush(t, l)
	assert.Equal(t, []string{"error"}, rec.types("c2"))

	var e taprace.Error
	rec.last(t, "c2", "error", &e)
	assert.Equal(t, taprace.ErrNotJoinable.Error(), e.Message)

	rec.reset()

	l.Submit("c1", taprace.StartGame{})
	flush(t, l)
	assert.Equal(t, []string{"error"}, rec.types("c1"))
	assert.Empty(t, rec.types("c0"))

	l.Submit("c1", taprace.ToggleReady{Ready: true})
	flush(t, l)
	assert.Equal(t, []string{"player-ready-changed", "room-updated"}, rec.types("c0"))
	assert.Equal(t, []string{"error", "player-ready-changed", "room-updated"}, rec.types("c1"))

	l.Submit("c0", taprace.StartGame{})
	flush(t, l)
	rec.last(t, "c0", "error", &e)
	assert.Equal(t, taprace.ErrPlayersNotReady.Error(), e.Message)
}

func TestLoop_SilentDrops(t *testing.T) {
	l, _, rec := startLoop(t)

	l.Disconnect("ghost")
	l.Submit("ghost", taprace.Tap{})
	l.Submit("ghost", taprace.ToggleReady{Ready: true})
	l.Submit("ghost", taprace.StartGame{})
	l.Submit("ghost", taprace.LeaveRoom{})
	l.Submit("ghost", taprace.PlayAgain{})
	flush(t, l)

	assert.Empty(t, rec.types("ghost"))

	require.NoError(t, l.Do(context.Background(), func(e *taprace.Engine) {
		assert.Zero(t, e.Registry().Len())
	}))
}

func TestLoop_TwoPlayerRace(t *testing.T) {
	l, mock, rec := startLoop(t)

	code, ids := lobby(t, l, rec, 2)
	countdown(t, l, mock, rec, taprace.CountdownFrom)

	var tick taprace.CountdownTick
	rec.last(t, "c1", "countdown-tick", &tick)
	assert.Equal(t, 0, tick.Value)

	var snap roomSnapshot
	rec.last(t, "c1", "room-updated", &snap)
	assert.Equal(t, "playing", snap.Room.State)

	// Taps faster than the limit only count once.
	l.Submit("c1", taprace.Tap{})
	l.Submit("c1", taprace.Tap{})
	flush(t, l)
	assert.Equal(t, 1, rec.count("c0", "player-progress"))

	tapVia(t, l, mock, "c0", taprace.TapsToWin)

	assert.Equal(t, taprace.TapsToWin+1, rec.count("c1", "player-progress"))
	assert.Equal(t, 1, rec.count("c1", "player-finished"))
	assert.Equal(t, 1, rec.count("c1", "game-ended"))

	var progress taprace.PlayerProgress
	rec.last(t, "c1", "player-progress", &progress)
	assert.Equal(t, ids[0], progress.PlayerID)
	assert.Equal(t, 100.0, progress.Progress)
	assert.Equal(t, taprace.TapsToWin, progress.Taps)

	var finished taprace.PlayerFinished
	rec.last(t, "c1", "player-finished", &finished)
	assert.Equal(t, ids[0], finished.PlayerID)
	assert.Equal(t, 1, finished.Position)

	var ended gameEnded
	rec.last(t, "c0", "game-ended", &ended)
	require.Len(t, ended.Winners, 1)
	assert.Equal(t, ids[0], ended.Winners[0].ID)
	assert.Equal(t, 1, ended.Winners[0].FinishPosition)
	assert.Len(t, ended.AllPlayers, 2)
	assert.Equal(t, (taprace.TapsToWin * taprace.MinTapInterval).Milliseconds(), ended.DurationMS)

	// The deadline was cancelled by the natural end.
	mock.Add(2 * taprace.MaxGameDuration)
	assert.Never(t, func() bool {
		return rec.count("c0", "game-ended") > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	l.Submit("c1", taprace.PlayAgain{})
	flush(t, l)
	var e taprace.Error
	rec.last(t, "c1", "error", &e)
	assert.Equal(t, taprace.ErrNotHost.Error(), e.Message)

	l.Submit("c0", taprace.PlayAgain{})
	flush(t, l)
	rec.last(t, "c1", "room-updated", &snap)
	assert.Equal(t, code, snap.Room.Code)
	assert.Equal(t, "waiting", snap.Room.State)
	for _, p := range snap.Room.Players {
		assert.False(t, p.Ready)
		assert.Zero(t, p.Taps)
		assert.Nil(t, p.FinishPosition)
	}
}

func TestLoop_TimeLimit(t *testing.T) {
	l, mock, rec := startLoop(t,
		taprace.WithCountdown(1),
		taprace.WithMaxGameDuration(10*time.Second),
	)

	_, ids := lobby(t, l, rec, 3)
	countdown(t, l, mock, rec, 1)

	tapVia(t, l, mock, "c1", 7)
	tapVia(t, l, mock, "c2", 3)
	assert.Zero(t, rec.count("c0", "game-ended"))

	mock.Add(10 * time.Second)
	require.Eventually(t, func() bool {
		return rec.count("c0", "game-ended") == 1
	}, time.Second, time.Millisecond)

	var ended gameEnded
	rec.last(t, "c2", "game-ended", &ended)
	require.Len(t, ended.Winners, 3)
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, []string{ended.Winners[0].ID, ended.Winners[1].ID, ended.Winners[2].ID})
	assert.Equal(t, (10*time.Second + 10*taprace.MinTapInterval).Milliseconds(), ended.DurationMS)

	var snap roomSnapshot
	rec.last(t, "c0", "room-updated", &snap)
	assert.Equal(t, "finished", snap.Room.State)

	tapVia(t, l, mock, "c0", 1)
	assert.Equal(t, 10, rec.count("c1", "player-progress"), "taps after the end are dropped")
}

func TestLoop_LeaveEndsGameWhenThresholdMet(t *testing.T) {
	l, mock, rec := startLoop(t)

	_, ids := lobby(t, l, rec, 3)
	countdown(t, l, mock, rec, taprace.CountdownFrom)

	tapVia(t, l, mock, "c0", taprace.TapsToWin)
	assert.Zero(t, rec.count("c1", "game-ended"))

	l.Disconnect("c2")
	flush(t, l)

	var left taprace.PlayerLeft
	rec.last(t, "c1", "player-left", &left)
	assert.Equal(t, ids[2], left.PlayerID)

	require.Equal(t, 1, rec.count("c1", "game-ended"))
	var ended gameEnded
	rec.last(t, "c1", "game-ended", &ended)
	require.Len(t, ended.Winners, 1)
	assert.Equal(t, ids[0], ended.Winners[0].ID)
	assert.Len(t, ended.AllPlayers, 2)
}

func TestLoop_HostLeavesDuringCountdown(t *testing.T) {
	l, mock, rec := startLoop(t)

	_, ids := lobby(t, l, rec, 3)

	l.Submit("c0", taprace.StartGame{})
	l.Submit("c0", taprace.LeaveRoom{})
	flush(t, l)

	var snap roomSnapshot
	rec.last(t, "c1", "room-updated", &snap)
	assert.Equal(t, ids[1], snap.Room.HostID)
	assert.Equal(t, "countdown", snap.Room.State)

	for i := 0; i <= taprace.CountdownFrom; i++ {
		mock.Add(time.Second)
		require.Eventually(t, func() bool {
			return rec.count("c1", "countdown-tick") == i+1
		}, time.Second, time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return rec.count("c2", "game-started") == 1
	}, time.Second, time.Millisecond)

	assert.Zero(t, rec.count("c0", "countdown-tick"))
}

func TestLoop_AbandonedRoomStopsTimers(t *testing.T) {
	l, mock, rec := startLoop(t)

	code, _ := lobby(t, l, rec, 2)

	l.Submit("c0", taprace.StartGame{})
	l.Disconnect("c0")
	l.Disconnect("c1")
	flush(t, l)

	rec.reset()
	for range taprace.CountdownFrom + 2 {
		mock.Add(time.Second)
	}
	flush(t, l)

	require.NoError(t, l.Do(context.Background(), func(e *taprace.Engine) {
		assert.Nil(t, e.Registry().Room(code))
		assert.Zero(t, e.Registry().Len())
	}))
	assert.Never(t, func() bool {
		return len(rec.types("c0"))+len(rec.types("c1")) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

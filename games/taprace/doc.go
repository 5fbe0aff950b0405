// Package taprace implements the room and match logic behind the tap race party game.
//
// Players create or join a room identified by a short code, ready up, and race to
// tap TapsToWin times. The first players to reach 100% progress take the podium.
//
// Features:
// - 6-character room codes from an alphabet without I, O, 0 or 1
// - Up to MaxCapacity players per room, colours assigned by slot
// - Host hand-off to the next player in join order when the host leaves
// - Start requires the host, at least two players, and everyone ready
// - Countdown of one tick per second before taps are accepted
// - Taps rate limited to MaxTapsPerSecond per player
// - Game ends after one finisher in 2-player rooms, min(3, N) finishers otherwise
// - Optional hard timeout that ranks unfinished players by tap count
// - Rooms are replayable via play-again and vanish when their last player leaves
//
// All state is owned by a Loop, which runs every request and timer on a single
// goroutine. Registry and Engine are not safe for concurrent use on their own.
package taprace

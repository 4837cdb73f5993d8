package loadgen

import (
	"bytes"
	"fmt"
)

// verifyLeaderboard checks ordering and privacy of a fetched board, and that
// every one of our players on it shows its true best. Entries from other
// clients are allowed.
func verifyLeaderboard(board []standing, raw []byte, players []player) error {
	for _, leak := range [][]byte{[]byte("password"), []byte("$2a$"), []byte("$2b$")} {
		if bytes.Contains(raw, leak) {
			return fmt.Errorf("%w: leaderboard exposes %q", ErrVerification, leak)
		}
	}

	for i := 1; i < len(board); i++ {
		if board[i].BestScore > board[i-1].BestScore {
			return fmt.Errorf("%w: leaderboard not sorted at %d (%d > %d)",
				ErrVerification, i, board[i].BestScore, board[i-1].BestScore)
		}
	}

	want := make(map[string]int64, len(players))
	for _, p := range players {
		want[p.Nickname] = p.best()
	}
	for _, e := range board {
		if best, ok := want[e.Nickname]; ok && best != e.BestScore {
			return fmt.Errorf("%w: %s listed with %d, want %d", ErrVerification, e.Nickname, e.BestScore, best)
		}
	}
	return nil
}

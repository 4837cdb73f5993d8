package loadgen

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// report prints a colored summary of the run.
func report(w io.Writer, s *Stats, board []standing, verbose bool) {
	ok := color.New(color.FgGreen, color.Bold)
	warn := color.New(color.FgYellow)
	head := color.New(color.FgCyan, color.Bold)

	_, _ = head.Fprintln(w, "Parry load run")
	_, _ = fmt.Fprintf(w, "  events     generated=%d persisted=%d duplicates=%d\n",
		s.EventsGenerated, s.EventsPersisted, s.EventsDuplicate)
	batchLine := fmt.Sprintf("  batches    sent=%d failed=%d\n", s.BatchesSent, s.BatchesFailed)
	if s.BatchesFailed > 0 {
		_, _ = warn.Fprint(w, batchLine)
	} else {
		_, _ = fmt.Fprint(w, batchLine)
	}
	_, _ = fmt.Fprintf(w, "  ranking    registered=%d updated=%d unchanged=%d refused=%d failed=%d\n",
		s.Registered, s.Updated, s.Unchanged, s.Unauthorized, s.SubmitsFailed)
	_, _ = fmt.Fprintf(w, "  lookups    %d, leaderboard size %d\n", s.RankLookups, s.LeaderboardSize)
	if s.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  duration   %s (%.0f events/s)\n",
			s.Duration.Round(1e6), float64(s.EventsGenerated)/s.Duration.Seconds())
	}

	if verbose {
		_, _ = head.Fprintln(w, "Top of the board")
		for i, e := range board {
			_, _ = fmt.Fprintf(w, "  %3d. %-24s %d\n", i+1, e.Nickname, e.BestScore)
		}
	}
	_, _ = ok.Fprintln(w, "verification passed")
}

// Package ranking turns end-of-match scores into ranks.
//
// Ranks count down from len-1: first place holds the highest rank number and a run of tied scores
// shares one rank while consuming as many rank slots as it has members. With three players scoring
// 10, 10 and 5 the ranks are 2, 2 and 0. The stats collaborator expects this numbering; Position
// converts it to the 0-is-best leaderboard index.
package ranking

import (
	"cmp"
	"slices"
)

// DroppedScore is forced onto participants that left a running match. It is below any score a
// finishing player can hold, so dropped players always rank last.
const DroppedScore = -1

// Row is one ranked participant.
type Row struct {
	ParticipantID string
	Score         int
	Rank          int
}

// Position returns the 0-is-best leaderboard position of the row in a result of n rows. Tied rows
// share a position.
func (r Row) Position(n int) int {
	return n - 1 - r.Rank
}

// Result holds rows sorted by descending score.
type Result struct {
	Rows         []Row
	TiedForFirst bool
}

// Position returns the leaderboard position of the i-th row.
func (r Result) Position(i int) int {
	return r.Rows[i].Position(len(r.Rows))
}

// Find returns the row for a participant.
func (r Result) Find(participantID string) (Row, bool) {
	for _, row := range r.Rows {
		if row.ParticipantID == participantID {
			return row, true
		}
	}
	return Row{}, false
}

// Rank sorts rows by descending score and assigns ranks. The input slice is not modified. Equal scores
// are ordered by input position, but that order carries no meaning: tied rows get identical ranks.
func Rank(rows []Row) Result {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b Row) int {
		return cmp.Compare(b.Score, a.Score)
	})

	rank := len(sorted) - 1
	tieRun := 1
	for i := range sorted {
		if i > 0 {
			if sorted[i].Score == sorted[i-1].Score {
				tieRun++
			} else {
				rank -= tieRun
				tieRun = 1
			}
		}
		sorted[i].Rank = rank
	}

	return Result{
		Rows:         sorted,
		TiedForFirst: len(sorted) >= 2 && sorted[0].Score == sorted[1].Score,
	}
}

// Entry is a participant's end-of-match standing before the dropped-score penalty is applied.
type Entry struct {
	ParticipantID string
	Score         int
	Dropped       bool
	Connected     bool
	IsHost        bool
}

// FromEntries builds ranking rows, forcing DroppedScore onto dropped entries. The host is exempt when
// it is the only participant still connected.
func FromEntries(entries []Entry) []Row {
	connected := 0
	for _, e := range entries {
		if e.Connected {
			connected++
		}
	}

	rows := make([]Row, len(entries))
	for i, e := range entries {
		score := e.Score
		if e.Dropped && !(e.IsHost && e.Connected && connected == 1) {
			score = DroppedScore
		}
		rows[i] = Row{ParticipantID: e.ParticipantID, Score: score}
	}
	return rows
}

package game

import (
	"cmp"
	"math"
	"slices"

	"github.com/yonatanbiwix/simon-game-app/internal"
)

// RankFinalScores compiles the final standings of a finished game. The
// winner ranks first; the rest are ordered by how long they survived, then
// score, then seat.
func RankFinalScores(state *internal.SimonState, seatOrder []string, names map[string]string) []internal.RankedScore {
	seat := make(map[string]int, len(seatOrder))
	for i, id := range seatOrder {
		seat[id] = i
	}

	ranked := make([]internal.RankedScore, 0, len(state.Players))
	for _, id := range seatOrder {
		ps, ok := state.Players[id]
		if !ok {
			continue
		}
		entry := internal.RankedScore{
			PlayerID: id,
			Name:     names[id],
			Score:    state.Scores[id],
			Status:   ps.Status,
		}
		if ps.EliminatedRound != nil {
			r := *ps.EliminatedRound
			entry.EliminatedRound = &r
		}
		ranked = append(ranked, entry)
	}

	survived := func(r internal.RankedScore) int {
		if r.EliminatedRound == nil {
			return math.MaxInt
		}
		return *r.EliminatedRound
	}
	isWinner := func(r internal.RankedScore) int {
		if r.PlayerID == state.Winner {
			return 0
		}
		return 1
	}

	slices.SortFunc(ranked, func(a, b internal.RankedScore) int {
		return cmp.Or(
			cmp.Compare(isWinner(a), isWinner(b)),
			cmp.Compare(survived(b), survived(a)),
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(seat[a.PlayerID], seat[b.PlayerID]),
		)
	})
	for idx := range ranked {
		ranked[idx].Rank = idx + 1
	}
	return ranked
}

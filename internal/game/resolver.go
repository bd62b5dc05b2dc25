package game

import (
	"cmp"
	"slices"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal"
)

// =============================================================================
// ROUND RESOLUTION
// =============================================================================

// Elimination is one player leaving the game in a round.
type Elimination struct {
	PlayerID string
	Reason   internal.EliminationReason
}

// RoundOutcome is the result of resolving one round.
type RoundOutcome struct {
	Round        int
	Eliminations []Elimination // arrival order
	// Winners share the earliest correct arrival timestamp, in arrival order.
	Winners []string
	// RoundWinner is Winners[0], or empty when nobody was correct.
	RoundWinner string
}

// ValidateSequence reports whether submitted repeats expected exactly.
func ValidateSequence(expected, submitted []internal.Color) bool {
	return slices.Equal(expected, submitted)
}

// SynthesizeTimeouts records an empty timed-out submission at time at for
// every playing player who has none, in seat order. Arrival counters start
// at nextOrder. It returns the ids that received one.
func SynthesizeTimeouts(state *internal.SimonState, seatOrder []string, at time.Time, nextOrder int) []string {
	var synthesized []string
	for _, id := range seatOrder {
		if !state.IsPlaying(id) {
			continue
		}
		if _, ok := state.Submissions[id]; ok {
			continue
		}
		state.Submissions[id] = &internal.Submission{
			PlayerID:    id,
			Sequence:    []internal.Color{},
			SubmittedAt: at,
			Order:       nextOrder,
			TimedOut:    true,
		}
		nextOrder++
		synthesized = append(synthesized, id)
	}
	return synthesized
}

// ResolveRound computes eliminations and winners from the current
// submissions. It does not modify state.
func ResolveRound(state *internal.SimonState) RoundOutcome {
	out := RoundOutcome{Round: state.Round}

	subs := make([]*internal.Submission, 0, len(state.Submissions))
	for id, sub := range state.Submissions {
		if state.IsPlaying(id) {
			subs = append(subs, sub)
		}
	}
	slices.SortFunc(subs, compareArrival)

	var correct []*internal.Submission
	for _, sub := range subs {
		if !sub.TimedOut && ValidateSequence(state.Sequence, sub.Sequence) {
			correct = append(correct, sub)
			continue
		}
		reason := internal.ReasonWrongSequence
		if sub.TimedOut {
			reason = internal.ReasonTimeout
		}
		out.Eliminations = append(out.Eliminations, Elimination{PlayerID: sub.PlayerID, Reason: reason})
	}

	if len(correct) == 0 {
		return out
	}
	fastest := correct[0].SubmittedAt
	for _, sub := range correct {
		if !sub.SubmittedAt.Equal(fastest) {
			break
		}
		out.Winners = append(out.Winners, sub.PlayerID)
	}
	out.RoundWinner = out.Winners[0]
	return out
}

// ApplyOutcome commits a resolved round: eliminations, +1 per winner and a
// cleared submission set.
func ApplyOutcome(state *internal.SimonState, out RoundOutcome) {
	for _, el := range out.Eliminations {
		ps, ok := state.Players[el.PlayerID]
		if !ok || ps.Status != internal.PlayerPlaying {
			continue
		}
		ps.Status = internal.PlayerEliminated
		if ps.EliminatedRound == nil {
			round := out.Round
			ps.EliminatedRound = &round
		}
	}
	for _, id := range out.Winners {
		state.Scores[id]++
	}
	state.RoundWinner = out.RoundWinner
	state.Submissions = make(map[string]*internal.Submission)
	state.TimeoutAt = nil
}

// DetermineWinner picks the game winner once at most one player is left
// playing. With nobody left it prefers the latest elimination round, then
// the higher score, then the earlier seat.
func DetermineWinner(state *internal.SimonState, seatOrder []string) string {
	var playing []string
	for _, id := range seatOrder {
		if state.IsPlaying(id) {
			playing = append(playing, id)
		}
	}
	if len(playing) == 1 {
		return playing[0]
	}
	if len(playing) > 1 {
		return ""
	}

	winner, best := "", 0
	for _, id := range seatOrder {
		ps, ok := state.Players[id]
		if !ok || ps.EliminatedRound == nil {
			continue
		}
		round := *ps.EliminatedRound
		switch {
		case winner == "", round > best:
			winner, best = id, round
		case round == best && state.Scores[id] > state.Scores[winner]:
			winner = id
		}
	}
	return winner
}

func compareArrival(a, b *internal.Submission) int {
	return cmp.Or(
		a.SubmittedAt.Compare(b.SubmittedAt),
		cmp.Compare(a.Order, b.Order),
		cmp.Compare(a.PlayerID, b.PlayerID),
	)
}

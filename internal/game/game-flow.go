package game

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
)

// =============================================================================
// GAME FLOW - ROUND STATE MACHINE
// =============================================================================
//
// showing_sequence -> player_input -> round_result -> showing_sequence | finished
//
// Every function here runs with s.mu held and returns the messages to
// publish once it is released.

// enterShowing starts displaying the current sequence.
func (e *Engine) enterShowing(s *session) []outbound {
	st := s.state
	st.Phase = internal.PhaseShowingSequence
	st.Submissions = make(map[string]*internal.Submission)
	st.TimeoutAt = nil
	st.RoundWinner = ""
	for _, ps := range st.Players {
		ps.Progress = 0
	}
	s.early = nil

	gen := st.Round
	display := e.cfg.DisplayDuration(len(st.Sequence))
	s.timer.Arm(internal.PhaseShowingSequence, gen, display, 0, nil, func() {
		e.onDisplayElapsed(s, gen)
	})
	if !e.commit(s) {
		return nil
	}

	logger.Infof("[enterShowing] room=%s: round %d, showing %d colors for %v", s.code, gen, len(st.Sequence), display)
	return []outbound{toRoom(internal.MsgSequenceDisplayStart, internal.SequenceDisplayStartData{
		Round:    gen,
		Sequence: slices.Clone(st.Sequence),
		Length:   len(st.Sequence),
	})}
}

func (e *Engine) onDisplayElapsed(s *session, gen int) {
	s.mu.Lock()
	msgs := e.enterInput(s, gen)
	s.mu.Unlock()

	publish(e.out, s.code, msgs)
}

// enterInput opens the input window and arms the round timeout.
func (e *Engine) enterInput(s *session, gen int) []outbound {
	if !e.stillCurrent(s, gen, internal.PhaseShowingSequence) {
		logger.Debugf("[enterInput] room=%s: stale display timer for round %d", s.code, gen)
		return nil
	}

	st := s.state
	timeout := e.cfg.InputTimeout(len(st.Sequence))
	deadline := time.Now().Add(timeout)
	st.Phase = internal.PhasePlayerInput
	st.TimeoutAt = &deadline

	s.timer.Arm(internal.PhasePlayerInput, gen, timeout, e.cfg.TimerTick,
		func(remaining time.Duration) { e.onInputTick(s, gen, remaining) },
		func() { e.onInputTimeout(s, gen) },
	)

	msgs := []outbound{
		toRoom(internal.MsgSequenceDisplayEnd, struct{}{}),
		toRoom(internal.MsgInputPhaseStart, internal.InputPhaseStartData{
			Round:           gen,
			Deadline:        deadline.UnixMilli(),
			DeadlineSeconds: int(timeout.Round(time.Second) / time.Second),
		}),
	}

	// everybody may have left during the display
	if st.QuorumReached() {
		return append(msgs, e.resolveRound(s, "quorum")...)
	}
	if !e.commit(s) {
		return nil
	}
	logger.Infof("[enterInput] room=%s: round %d input open for %v", s.code, gen, timeout)
	return msgs
}

func (e *Engine) onInputTick(s *session, gen int, remaining time.Duration) {
	s.mu.Lock()
	current := !s.closed && s.state.Round == gen && s.state.Phase == internal.PhasePlayerInput
	s.mu.Unlock()
	if !current {
		return
	}

	e.out.BroadcastToRoom(s.code, internal.Message[any]{
		Type: internal.MsgTimerUpdate,
		Data: internal.TimerUpdateData{
			TimeRemaining: remaining.Milliseconds(),
			Phase:         internal.PhasePlayerInput,
			Round:         gen,
		},
	})
}

func (e *Engine) onInputTimeout(s *session, gen int) {
	s.mu.Lock()
	var msgs []outbound
	if e.stillCurrent(s, gen, internal.PhasePlayerInput) {
		msgs = e.resolveRound(s, "timeout")
	} else {
		logger.Debugf("[onInputTimeout] room=%s: round %d already resolved", s.code, gen)
	}
	s.mu.Unlock()

	publish(e.out, s.code, msgs)
}

// resolveRound resolves the current round once. Whichever of quorum or
// timeout gets here first wins; the other finds the round resolved.
func (e *Engine) resolveRound(s *session, trigger string) []outbound {
	st := s.state
	round := st.Round
	if s.closed || st.Phase != internal.PhasePlayerInput || s.resolved >= round {
		return nil
	}
	s.resolved = round
	s.timer.Cancel()

	var msgs []outbound
	now := time.Now().Truncate(time.Millisecond)
	timedOut := SynthesizeTimeouts(st, s.order, now, s.arrivals+1)
	s.arrivals += len(timedOut)
	for _, id := range timedOut {
		msgs = append(msgs, toRoom(internal.MsgPlayerTimedOut, internal.PlayerTimedOutData{
			PlayerID: id,
			Name:     s.names[id],
			Sequence: slices.Clone(st.Sequence),
		}))
	}

	outcome := ResolveRound(st)
	ApplyOutcome(st, outcome)
	st.Phase = internal.PhaseRoundResult

	eliminations := make([]internal.PlayerEliminatedData, 0, len(s.early)+len(outcome.Eliminations))
	for _, el := range s.early {
		eliminations = append(eliminations, e.eliminationData(s, el))
	}
	for _, el := range outcome.Eliminations {
		data := e.eliminationData(s, el)
		eliminations = append(eliminations, data)
		msgs = append(msgs, toRoom(internal.MsgPlayerEliminated, data))
	}
	s.early = nil

	result := internal.RoundResultData{
		Round:        round,
		Winners:      outcome.Winners,
		Eliminations: eliminations,
		Scores:       maps.Clone(st.Scores),
		Statuses:     statuses(st),
	}
	if outcome.RoundWinner != "" {
		w := outcome.RoundWinner
		result.Winner = &w
	}
	if result.Winners == nil {
		result.Winners = []string{}
	}
	msgs = append(msgs, toRoom(internal.MsgRoundResult, result))

	s.timer.Arm(internal.PhaseRoundResult, round, e.cfg.RoundResultDelay, 0, nil, func() {
		e.onResultElapsed(s, round)
	})
	if !e.commit(s) {
		return nil
	}

	logger.Infof("[resolveRound] room=%s: round %d resolved by %s, winners=%v eliminated=%d playing=%d",
		s.code, round, trigger, outcome.Winners, len(eliminations), st.PlayingCount())
	return msgs
}

func (e *Engine) onResultElapsed(s *session, gen int) {
	s.mu.Lock()
	var msgs []outbound
	finished := false
	if e.stillCurrent(s, gen, internal.PhaseRoundResult) {
		if s.state.PlayingCount() <= 1 {
			msgs = e.finish(s)
			finished = true
		} else {
			msgs = e.nextRound(s)
		}
	}
	s.mu.Unlock()

	if finished {
		e.dropSession(s)
	}
	publish(e.out, s.code, msgs)
}

func (e *Engine) nextRound(s *session) []outbound {
	st := s.state
	st.Sequence = append(st.Sequence, e.nextColor())
	st.Round++
	return e.enterShowing(s)
}

// finish ends the game. The session accepts nothing afterwards.
func (e *Engine) finish(s *session) []outbound {
	st := s.state
	st.Phase = internal.PhaseFinished
	st.Winner = DetermineWinner(st, s.order)
	s.timer.Cancel()
	e.commit(s)
	s.closed = true

	ctx, cancel := context.WithTimeout(e.ctx, storeTimeout)
	defer cancel()
	if err := e.store.TransitionStatus(ctx, s.code, internal.StatusActive, internal.StatusFinished); err != nil {
		logger.Errorf("[finish] room=%s: failed to mark room finished: %v", s.code, err)
	}

	data := internal.GameFinishedData{
		FinalScores:  RankFinalScores(st, s.order, s.names),
		RoundsPlayed: st.Round,
	}
	if st.Winner != "" {
		w := st.Winner
		data.Winner = &w
		data.WinnerName = s.names[w]
	}
	logger.Infof("[finish] room=%s: game finished after %d rounds, winner=%q", s.code, st.Round, st.Winner)
	return []outbound{toRoom(internal.MsgGameFinished, data)}
}

func (e *Engine) eliminationData(s *session, el Elimination) internal.PlayerEliminatedData {
	return internal.PlayerEliminatedData{
		PlayerID: el.PlayerID,
		Name:     s.names[el.PlayerID],
		Reason:   el.Reason,
	}
}

func statuses(st *internal.SimonState) map[string]internal.PlayerStatus {
	out := make(map[string]internal.PlayerStatus, len(st.Players))
	for id, ps := range st.Players {
		out[id] = ps.Status
	}
	return out
}

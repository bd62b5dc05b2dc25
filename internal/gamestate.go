package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

var ErrUnknownGameMode = errors.New("unknown game mode")

type gameStateEnvelope struct {
	Mode  GameMode        `json:"mode"`
	State json.RawMessage `json:"state"`
}

// MarshalGameState encodes a game state with its mode tag. A nil state
// encodes to nil.
func MarshalGameState(gs GameState) ([]byte, error) {
	if gs == nil {
		return nil, nil
	}
	var (
		raw []byte
		err error
	)
	switch s := gs.(type) {
	case *SimonState:
		raw, err = json.Marshal(s)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownGameMode, gs)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s state: %w", gs.Mode(), err)
	}
	return json.Marshal(gameStateEnvelope{Mode: gs.Mode(), State: raw})
}

// UnmarshalGameState is the inverse of MarshalGameState.
func UnmarshalGameState(data []byte) (GameState, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env gameStateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode game state envelope: %w", err)
	}
	switch env.Mode {
	case ModeSimonSays:
		var s SimonState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return nil, fmt.Errorf("decode %s state: %w", env.Mode, err)
		}
		if s.Players == nil {
			s.Players = make(map[string]*PlayerRoundState)
		}
		if s.Scores == nil {
			s.Scores = make(map[string]int)
		}
		if s.Submissions == nil {
			s.Submissions = make(map[string]*Submission)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameMode, env.Mode)
	}
}

// CreateGameSnapshot builds the resync view of a game state.
func CreateGameSnapshot(gs GameState) (*GameSnapshot, error) {
	switch s := gs.(type) {
	case nil:
		return nil, nil
	case *SimonState:
		snap := &GameSnapshot{
			Mode:      ModeSimonSays,
			Phase:     s.Phase,
			Round:     s.Round,
			Length:    len(s.Sequence),
			Scores:    maps.Clone(s.Scores),
			Statuses:  make(map[string]PlayerStatus, len(s.Players)),
			Submitted: make([]string, 0, len(s.Submissions)),
			Winner:    s.Winner,
		}
		if s.Phase == PhaseShowingSequence || s.Phase == PhaseFinished {
			snap.Sequence = slices.Clone(s.Sequence)
		}
		if s.TimeoutAt != nil {
			snap.TimeoutAt = s.TimeoutAt.UnixMilli()
		}
		for id, ps := range s.Players {
			snap.Statuses[id] = ps.Status
		}
		for id := range s.Submissions {
			snap.Submitted = append(snap.Submitted, id)
		}
		slices.Sort(snap.Submitted)
		return snap, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownGameMode, gs)
	}
}

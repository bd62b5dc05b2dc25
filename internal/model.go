package internal

import (
	"maps"
	"slices"
	"time"
)

type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusCountdown RoomStatus = "countdown"
	StatusActive    RoomStatus = "active"
	StatusFinished  RoomStatus = "finished"
)

type Color string

const (
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
)

// Colors is the palette sequences are drawn from.
var Colors = []Color{ColorRed, ColorBlue, ColorGreen, ColorYellow}

func (c Color) Valid() bool {
	return slices.Contains(Colors, c)
}

type GameMode string

const (
	ModeSimonSays GameMode = "simon_says"
)

type SimonPhase string

const (
	PhaseShowingSequence SimonPhase = "showing_sequence"
	PhasePlayerInput     SimonPhase = "player_input"
	PhaseRoundResult     SimonPhase = "round_result"
	PhaseFinished        SimonPhase = "finished"
)

type PlayerStatus string

const (
	PlayerPlaying    PlayerStatus = "playing"
	PlayerEliminated PlayerStatus = "eliminated"
	PlayerSpectating PlayerStatus = "spectating"
)

type EliminationReason string

const (
	ReasonWrongSequence EliminationReason = "wrong_sequence"
	ReasonTimeout       EliminationReason = "timeout"
)

type Room struct {
	Code    string     `json:"code"`
	Players []*Player  `json:"players"` // seat order
	Status  RoomStatus `json:"status"`

	// Game is nil until the countdown completes.
	Game GameState `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	// EmptySince is set while no player holds a live connection.
	EmptySince *time.Time `json:"-"`
}

type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	IsHost    bool      `json:"is_host"`
	JoinedAt  time.Time `json:"joined_at"`
}

// GameState is the per-mode game payload of a room. Only this package can
// add variants; callers switch over the concrete types.
type GameState interface {
	Mode() GameMode
	Clone() GameState
	isGameState()
}

type PlayerRoundState struct {
	Status PlayerStatus `json:"status"`
	// Progress is only advanced by the per-color input path.
	Progress        int  `json:"progress"`
	EliminatedRound *int `json:"eliminated_round"`
}

type Submission struct {
	PlayerID    string    `json:"player_id"`
	Sequence    []Color   `json:"sequence"`
	SubmittedAt time.Time `json:"submitted_at"`
	// Order is the server arrival counter, used to order equal timestamps.
	Order    int  `json:"order"`
	Correct  bool `json:"is_correct"`
	TimedOut bool `json:"timed_out"`
}

type SimonState struct {
	Phase    SimonPhase `json:"phase"`
	Sequence []Color    `json:"sequence"`
	Round    int        `json:"round"`

	Players map[string]*PlayerRoundState `json:"players"`
	Scores  map[string]int               `json:"scores"`

	// TimeoutAt is only set during player_input.
	TimeoutAt *time.Time `json:"timeout_at,omitempty"`

	// Submissions holds the current round only.
	Submissions map[string]*Submission `json:"submissions"`

	RoundWinner string `json:"round_winner,omitempty"`
	Winner      string `json:"winner,omitempty"`
}

// NewSimonState returns round 1 with every player playing and scores at zero.
func NewSimonState(playerIDs []string, sequence []Color) *SimonState {
	s := &SimonState{
		Phase:       PhaseShowingSequence,
		Sequence:    slices.Clone(sequence),
		Round:       1,
		Players:     make(map[string]*PlayerRoundState, len(playerIDs)),
		Scores:      make(map[string]int, len(playerIDs)),
		Submissions: make(map[string]*Submission, len(playerIDs)),
	}
	for _, id := range playerIDs {
		s.Players[id] = &PlayerRoundState{Status: PlayerPlaying}
		s.Scores[id] = 0
	}
	return s
}

func (s *SimonState) Mode() GameMode { return ModeSimonSays }

func (s *SimonState) isGameState() {}

func (s *SimonState) Clone() GameState { return s.Copy() }

// Copy returns a deep copy.
func (s *SimonState) Copy() *SimonState {
	if s == nil {
		return nil
	}
	c := &SimonState{
		Phase:       s.Phase,
		Sequence:    slices.Clone(s.Sequence),
		Round:       s.Round,
		Players:     make(map[string]*PlayerRoundState, len(s.Players)),
		Scores:      maps.Clone(s.Scores),
		Submissions: make(map[string]*Submission, len(s.Submissions)),
		RoundWinner: s.RoundWinner,
		Winner:      s.Winner,
	}
	if c.Scores == nil {
		c.Scores = make(map[string]int)
	}
	if s.TimeoutAt != nil {
		t := *s.TimeoutAt
		c.TimeoutAt = &t
	}
	for id, ps := range s.Players {
		cp := *ps
		if ps.EliminatedRound != nil {
			r := *ps.EliminatedRound
			cp.EliminatedRound = &r
		}
		c.Players[id] = &cp
	}
	for id, sub := range s.Submissions {
		cs := *sub
		cs.Sequence = slices.Clone(sub.Sequence)
		c.Submissions[id] = &cs
	}
	return c
}

// PlayingCount counts players still in the game.
func (s *SimonState) PlayingCount() int {
	n := 0
	for _, ps := range s.Players {
		if ps.Status == PlayerPlaying {
			n++
		}
	}
	return n
}

// IsPlaying reports whether the player is a member still in the game.
func (s *SimonState) IsPlaying(playerID string) bool {
	ps, ok := s.Players[playerID]
	return ok && ps.Status == PlayerPlaying
}

// QuorumReached reports whether every playing player has submitted.
func (s *SimonState) QuorumReached() bool {
	for id, ps := range s.Players {
		if ps.Status != PlayerPlaying {
			continue
		}
		if _, ok := s.Submissions[id]; !ok {
			return false
		}
	}
	return true
}

// Response is the JSON envelope of every REST reply.
type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}

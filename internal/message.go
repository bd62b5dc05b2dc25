package internal

type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Inbound (client -> server) message types.
const (
	MsgStartGame          = "start_game"
	MsgPlayAgain          = "play_again"
	MsgSubmitFullSequence = "submit_full_sequence"
	MsgSubmitSingleInput  = "submit_single_input"
)

// Outbound (server -> client) message types.
const (
	MsgWelcome              = "welcome"
	MsgPlayerJoined         = "player_joined"
	MsgPlayerLeft           = "player_left"
	MsgPlayerDisconnected   = "player_disconnected"
	MsgPlayerReconnected    = "player_reconnected"
	MsgHostChanged          = "host_changed"
	MsgCountdownStart       = "countdown_start"
	MsgLobbyReset           = "lobby_reset"
	MsgSequenceDisplayStart = "sequence_display_start"
	MsgSequenceDisplayEnd   = "sequence_display_end"
	MsgInputPhaseStart      = "input_phase_start"
	MsgTimerUpdate          = "timer_update"
	MsgPlayerSubmitted      = "player_submitted"
	MsgPlayerTimedOut       = "player_timed_out"
	MsgPlayerEliminated     = "player_eliminated"
	MsgRoundResult          = "round_result"
	MsgGameFinished         = "game_finished"
	MsgError                = "error"
)

type SubmitFullSequenceData struct {
	RoomCode string  `json:"roomCode"`
	PlayerID string  `json:"playerId"`
	Sequence []Color `json:"sequence"`
}

type SubmitSingleInputData struct {
	RoomCode   string `json:"roomCode"`
	PlayerID   string `json:"playerId"`
	Color      Color  `json:"color"`
	InputIndex int    `json:"inputIndex"`
}

type SequenceDisplayStartData struct {
	Round    int     `json:"round"`
	Sequence []Color `json:"sequence"`
	Length   int     `json:"length"`
}

type InputPhaseStartData struct {
	Round           int   `json:"round"`
	Deadline        int64 `json:"deadline"` // unix ms
	DeadlineSeconds int   `json:"deadline_seconds"`
}

type TimerUpdateData struct {
	TimeRemaining int64      `json:"time_remaining_ms"`
	Phase         SimonPhase `json:"phase"`
	Round         int        `json:"round"`
}

type PlayerSubmittedData struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type PlayerTimedOutData struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name"`
	Sequence []Color `json:"sequence"`
}

type PlayerEliminatedData struct {
	PlayerID string            `json:"player_id"`
	Name     string            `json:"name"`
	Reason   EliminationReason `json:"reason"`
}

type RoundResultData struct {
	Round        int                     `json:"round"`
	Winner       *string                 `json:"winner"`
	Winners      []string                `json:"winners"`
	Eliminations []PlayerEliminatedData  `json:"eliminations"`
	Scores       map[string]int          `json:"scores"`
	Statuses     map[string]PlayerStatus `json:"player_statuses"`
}

type RankedScore struct {
	Rank            int          `json:"rank"`
	PlayerID        string       `json:"player_id"`
	Name            string       `json:"name"`
	Score           int          `json:"score"`
	Status          PlayerStatus `json:"status"`
	EliminatedRound *int         `json:"eliminated_round"`
}

type GameFinishedData struct {
	Winner       *string       `json:"winner"`
	WinnerName   string        `json:"winner_name,omitempty"`
	FinalScores  []RankedScore `json:"final_scores"`
	RoundsPlayed int           `json:"rounds_played"`
}

type CountdownData struct {
	Seconds  int   `json:"seconds"`
	StartsAt int64 `json:"starts_at"` // unix ms
}

type RoomSnapshot struct {
	Code    string           `json:"code"`
	Status  RoomStatus       `json:"status"`
	Players []PlayerSnapshot `json:"players"`
}

// GameSnapshot is the resync view of a running game. The sequence is only
// included while it is being displayed.
type GameSnapshot struct {
	Mode      GameMode                `json:"mode"`
	Phase     SimonPhase              `json:"phase"`
	Round     int                     `json:"round"`
	Length    int                     `json:"length"`
	Sequence  []Color                 `json:"sequence,omitempty"`
	TimeoutAt int64                   `json:"timeout_at,omitempty"` // unix ms
	Scores    map[string]int          `json:"scores"`
	Statuses  map[string]PlayerStatus `json:"player_statuses"`
	Submitted []string                `json:"submitted"`
	Winner    string                  `json:"winner,omitempty"`
}

type WelcomeData struct {
	PlayerID string        `json:"player_id"`
	Room     RoomSnapshot  `json:"room"`
	Game     *GameSnapshot `json:"game,omitempty"`
}

type PlayerJoinedData struct {
	Player      PlayerSnapshot `json:"player"`
	PlayerCount int            `json:"player_count"`
	CanStart    bool           `json:"can_start"`
}

type PlayerLeftData struct {
	PlayerID    string `json:"player_id"`
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count"`
}

type PlayerConnectionData struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type HostChangedData struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type LobbyResetData struct {
	Room RoomSnapshot `json:"room"`
}

type ErrorData struct {
	Message string `json:"message"`
}

package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/config"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
	"github.com/yonatanbiwix/simon-game-app/internal/utils"
)

var (
	ErrNotHost          = errors.New("only the host can do that")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrRoomFull         = errors.New("room is full")
	ErrGameInProgress   = errors.New("game already in progress")
	ErrInvalidName      = errors.New("invalid player name")
)

const storeTimeout = 5 * time.Second

// session is the running game of one room. All fields are guarded by mu.
type session struct {
	mu    sync.Mutex
	code  string
	state *internal.SimonState
	names map[string]string
	order []string // seat order
	timer *TimerManager

	// resolved is the last round that was resolved; it gates resolution.
	resolved int
	arrivals int
	// early holds eliminations from per-color input, reported with the round.
	early  []Elimination
	closed bool
}

// Engine runs the Simon Says sessions of every room. It is the only writer
// of a room's game state.
type Engine struct {
	cfg       config.Game
	store     store.RoomStore
	out       Broadcaster
	nextColor func() internal.Color

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
}

type EngineOption func(*Engine)

// WithColorSource replaces the random color generator.
func WithColorSource(next func() internal.Color) EngineOption {
	return func(e *Engine) { e.nextColor = next }
}

func NewEngine(cfg config.Game, st store.RoomStore, out Broadcaster, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		store:     st,
		out:       out,
		nextColor: utils.RandomColor,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Begin moves a room out of countdown and starts round 1.
func (e *Engine) Begin(ctx context.Context, code string) error {
	if e.session(code) != nil {
		return fmt.Errorf("%w: %s", ErrGameInProgress, code)
	}
	if err := e.store.TransitionStatus(ctx, code, internal.StatusCountdown, internal.StatusActive); err != nil {
		return err
	}
	room, err := e.store.Get(ctx, code)
	if err != nil {
		return err
	}

	seq := utils.RandomSequence(e.cfg.InitialSequenceLength, e.nextColor)
	s := &session{
		code:  code,
		state: internal.NewSimonState(room.PlayerIDs(), seq),
		names: room.Names(),
		order: room.PlayerIDs(),
		timer: NewTimerManager(e.ctx, code),
	}

	e.mu.Lock()
	if _, exists := e.sessions[code]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGameInProgress, code)
	}
	e.sessions[code] = s
	e.mu.Unlock()

	logger.Infof("[Engine.Begin] room=%s: game started with %d players", code, len(s.order))

	s.mu.Lock()
	msgs := e.enterShowing(s)
	s.mu.Unlock()

	publish(e.out, code, msgs)
	return nil
}

// SubmitFullSequence records a player's whole answer for the round.
// Invalid or stale submissions are dropped.
func (e *Engine) SubmitFullSequence(code, playerID string, sequence []internal.Color) {
	s := e.session(code)
	if s == nil {
		logger.Debugf("[SubmitFullSequence] room=%s: no running game, dropping submission from %s", code, playerID)
		return
	}

	s.mu.Lock()
	msgs := e.submitFull(s, playerID, sequence)
	s.mu.Unlock()

	publish(e.out, code, msgs)
}

func (e *Engine) submitFull(s *session, playerID string, sequence []internal.Color) []outbound {
	if !e.acceptsInput(s, playerID, "SubmitFullSequence") {
		return nil
	}
	if _, dup := s.state.Submissions[playerID]; dup {
		logger.Debugf("[SubmitFullSequence] room=%s: duplicate submission from %s", s.code, playerID)
		return nil
	}
	return e.recordSubmission(s, playerID, sequence)
}

// SubmitSingleInput is the per-color input path. A wrong color eliminates
// the player at once; completing the sequence counts as a correct
// submission.
func (e *Engine) SubmitSingleInput(code, playerID string, color internal.Color, inputIndex int) {
	s := e.session(code)
	if s == nil {
		logger.Debugf("[SubmitSingleInput] room=%s: no running game, dropping input from %s", code, playerID)
		return
	}

	s.mu.Lock()
	msgs := e.submitSingle(s, playerID, color, inputIndex)
	s.mu.Unlock()

	publish(e.out, code, msgs)
}

func (e *Engine) submitSingle(s *session, playerID string, color internal.Color, inputIndex int) []outbound {
	if !e.acceptsInput(s, playerID, "SubmitSingleInput") {
		return nil
	}
	if _, done := s.state.Submissions[playerID]; done {
		return nil
	}
	ps := s.state.Players[playerID]
	if inputIndex != ps.Progress || inputIndex >= len(s.state.Sequence) {
		logger.Debugf("[SubmitSingleInput] room=%s: %s sent index %d, expected %d", s.code, playerID, inputIndex, ps.Progress)
		return nil
	}

	if color != s.state.Sequence[inputIndex] {
		round := s.state.Round
		ps.Status = internal.PlayerEliminated
		ps.EliminatedRound = &round
		s.early = append(s.early, Elimination{PlayerID: playerID, Reason: internal.ReasonWrongSequence})
		logger.Infof("[SubmitSingleInput] room=%s: %s eliminated on input %d", s.code, playerID, inputIndex)

		msgs := []outbound{toRoom(internal.MsgPlayerEliminated, internal.PlayerEliminatedData{
			PlayerID: playerID,
			Name:     s.names[playerID],
			Reason:   internal.ReasonWrongSequence,
		})}
		if s.state.QuorumReached() {
			return append(msgs, e.resolveRound(s, "quorum")...)
		}
		e.commit(s)
		return msgs
	}

	ps.Progress++
	if ps.Progress < len(s.state.Sequence) {
		e.commit(s)
		return nil
	}
	return e.recordSubmission(s, playerID, s.state.Sequence)
}

// RemovePlayer drops a player who left the room from the running game and
// re-checks quorum.
func (e *Engine) RemovePlayer(code, playerID string) {
	s := e.session(code)
	if s == nil {
		return
	}

	s.mu.Lock()
	msgs := e.removePlayer(s, playerID)
	s.mu.Unlock()

	publish(e.out, code, msgs)
}

func (e *Engine) removePlayer(s *session, playerID string) []outbound {
	if s.closed {
		return nil
	}
	if _, ok := s.state.Players[playerID]; !ok {
		return nil
	}
	delete(s.state.Players, playerID)
	delete(s.state.Scores, playerID)
	delete(s.state.Submissions, playerID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == playerID })
	logger.Infof("[Engine.RemovePlayer] room=%s: %s removed from game", s.code, playerID)

	if s.state.Phase == internal.PhasePlayerInput && s.state.QuorumReached() {
		return e.resolveRound(s, "quorum")
	}
	e.commit(s)
	return nil
}

// CloseRoom stops the room's game and its timers.
func (e *Engine) CloseRoom(code string) {
	e.mu.Lock()
	s := e.sessions[code]
	delete(e.sessions, code)
	e.mu.Unlock()

	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.timer.Cancel()
	s.mu.Unlock()
	logger.Infof("[Engine.CloseRoom] room=%s: session closed", code)
}

// Snapshot returns a copy of the room's running game.
func (e *Engine) Snapshot(code string) (*internal.SimonState, bool) {
	s := e.session(code)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	return s.state.Copy(), true
}

// Running reports whether the room has a game in progress.
func (e *Engine) Running(code string) bool {
	return e.session(code) != nil
}

// Close stops every session.
func (e *Engine) Close() {
	e.mu.Lock()
	codes := make([]string, 0, len(e.sessions))
	for code := range e.sessions {
		codes = append(codes, code)
	}
	e.mu.Unlock()

	for _, code := range codes {
		e.CloseRoom(code)
	}
	e.cancel()
}

// =============================================================================
// HELPERS
// =============================================================================

// e.mu is never held while acquiring a session lock.
func (e *Engine) session(code string) *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[code]
}

func (e *Engine) dropSession(s *session) {
	e.mu.Lock()
	if e.sessions[s.code] == s {
		delete(e.sessions, s.code)
	}
	e.mu.Unlock()
}

func (e *Engine) acceptsInput(s *session, playerID, op string) bool {
	switch {
	case s.closed:
		return false
	case s.state.Phase != internal.PhasePlayerInput:
		logger.Debugf("[%s] room=%s: input from %s outside player_input (%s)", op, s.code, playerID, s.state.Phase)
		return false
	case !s.state.IsPlaying(playerID):
		logger.Debugf("[%s] room=%s: %s is not playing", op, s.code, playerID)
		return false
	case s.state.TimeoutAt != nil && !time.Now().Before(*s.state.TimeoutAt):
		logger.Debugf("[%s] room=%s: input from %s after the deadline", op, s.code, playerID)
		return false
	}
	return true
}

func (e *Engine) recordSubmission(s *session, playerID string, sequence []internal.Color) []outbound {
	s.arrivals++
	s.state.Submissions[playerID] = &internal.Submission{
		PlayerID:    playerID,
		Sequence:    slices.Clone(sequence),
		SubmittedAt: time.Now().Truncate(time.Millisecond),
		Order:       s.arrivals,
		Correct:     ValidateSequence(s.state.Sequence, sequence),
	}
	logger.Debugf("[recordSubmission] room=%s: %s submitted (%d/%d)",
		s.code, playerID, len(s.state.Submissions), s.state.PlayingCount())

	msgs := []outbound{toRoom(internal.MsgPlayerSubmitted, internal.PlayerSubmittedData{
		PlayerID: playerID,
		Name:     s.names[playerID],
	})}
	if s.state.QuorumReached() {
		return append(msgs, e.resolveRound(s, "quorum")...)
	}
	e.commit(s)
	return msgs
}

// commit writes the session state to the store. A room that vanished from
// the store tears the session down.
func (e *Engine) commit(s *session) bool {
	ctx, cancel := context.WithTimeout(e.ctx, storeTimeout)
	defer cancel()

	err := e.store.SaveGame(ctx, s.code, s.state.Copy())
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrRoomNotFound):
		logger.Warnf("[commit] room=%s: room is gone, stopping game", s.code)
		e.teardown(s)
		return false
	default:
		logger.Errorf("[commit] room=%s: failed to save game: %v", s.code, err)
		return true
	}
}

// must be called with s.mu held
func (e *Engine) teardown(s *session) {
	s.closed = true
	s.timer.Cancel()
	e.dropSession(s)
}

// stillCurrent guards timer callbacks: the session must be open, on the
// same round and phase, and its room must still exist.
func (e *Engine) stillCurrent(s *session, gen int, phase internal.SimonPhase) bool {
	if s.closed || s.state.Round != gen || s.state.Phase != phase {
		return false
	}
	ctx, cancel := context.WithTimeout(e.ctx, storeTimeout)
	defer cancel()
	if _, err := e.store.Get(ctx, s.code); errors.Is(err, store.ErrRoomNotFound) {
		logger.Warnf("[stillCurrent] room=%s: room removed during %s, stopping game", s.code, phase)
		e.teardown(s)
		return false
	}
	return true
}

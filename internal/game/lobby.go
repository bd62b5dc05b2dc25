package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/config"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
)

// =============================================================================
// LOBBY - ROOM LIFECYCLE AROUND THE ENGINE
// =============================================================================

// Lobby owns everything that happens to a room outside a running round:
// joining, the countdown, presence and teardown.
type Lobby struct {
	cfg      config.Config
	store    store.RoomStore
	out      Broadcaster
	engine   *Engine
	presence *PresenceTracker

	// roomLocks serializes membership writes per room code.
	roomLocks sync.Map

	mu         sync.Mutex
	countdowns map[string]*time.Timer
}

func NewLobby(cfg config.Config, st store.RoomStore, out Broadcaster, opts ...EngineOption) *Lobby {
	l := &Lobby{
		cfg:        cfg,
		store:      st,
		out:        out,
		engine:     NewEngine(cfg.Game, st, out, opts...),
		countdowns: make(map[string]*time.Timer),
	}
	l.presence = NewPresenceTracker(cfg.Presence.Buffer, cfg.Presence.Grace, l)
	return l
}

func (l *Lobby) Engine() *Engine { return l.engine }

func (l *Lobby) Presence() *PresenceTracker { return l.presence }

// Close stops every countdown, presence window and game.
func (l *Lobby) Close() {
	l.mu.Lock()
	for code, t := range l.countdowns {
		t.Stop()
		delete(l.countdowns, code)
	}
	l.mu.Unlock()

	l.presence.Close()
	l.engine.Close()
}

// StartGame begins the countdown. Only the host may start, and only from
// waiting with enough players.
func (l *Lobby) StartGame(ctx context.Context, code, playerID string) error {
	room, err := l.store.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := requireHost(room, playerID); err != nil {
		return err
	}
	if room.Status != internal.StatusWaiting {
		return fmt.Errorf("%w: room is %s", ErrGameInProgress, room.Status)
	}
	if len(room.Players) < l.cfg.Game.MinPlayers {
		return fmt.Errorf("%w: %d/%d", ErrNotEnoughPlayers, len(room.Players), l.cfg.Game.MinPlayers)
	}

	err = l.store.TransitionStatus(ctx, code, internal.StatusWaiting, internal.StatusCountdown)
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: %w", ErrGameInProgress, err)
	}
	if err != nil {
		return err
	}

	countdown := l.cfg.Game.CountdownDuration
	l.mu.Lock()
	l.countdowns[code] = time.AfterFunc(countdown, func() { l.finishCountdown(code) })
	l.mu.Unlock()

	logger.Infof("[StartGame] room=%s: countdown started by %s (%v)", code, playerID, countdown)
	l.out.BroadcastToRoom(code, internal.Message[any]{
		Type: internal.MsgCountdownStart,
		Data: internal.CountdownData{
			Seconds:  int(countdown.Round(time.Second) / time.Second),
			StartsAt: time.Now().Add(countdown).UnixMilli(),
		},
	})
	return nil
}

func (l *Lobby) finishCountdown(code string) {
	l.mu.Lock()
	delete(l.countdowns, code)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	room, err := l.store.Get(ctx, code)
	if err != nil {
		logger.Warnf("[finishCountdown] room=%s: %v", code, err)
		return
	}
	if room.Status != internal.StatusCountdown {
		return
	}

	// players may have left during the countdown
	if len(room.Players) < l.cfg.Game.MinPlayers {
		if err := l.store.TransitionStatus(ctx, code, internal.StatusCountdown, internal.StatusWaiting); err != nil {
			logger.Errorf("[finishCountdown] room=%s: failed to return to lobby: %v", code, err)
			return
		}
		room.Status = internal.StatusWaiting
		logger.Infof("[finishCountdown] room=%s: not enough players left, back to lobby", code)
		l.out.BroadcastToRoom(code, internal.Message[any]{
			Type: internal.MsgLobbyReset,
			Data: internal.LobbyResetData{Room: internal.CreateRoomSnapshot(room)},
		})
		return
	}

	if err := l.engine.Begin(ctx, code); err != nil {
		logger.Errorf("[finishCountdown] room=%s: failed to begin game: %v", code, err)
	}
}

// ResetToLobby takes a finished room back to waiting for another game.
func (l *Lobby) ResetToLobby(ctx context.Context, code, playerID string) error {
	room, err := l.store.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := requireHost(room, playerID); err != nil {
		return err
	}

	err = l.store.TransitionStatus(ctx, code, internal.StatusFinished, internal.StatusWaiting)
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: %w", ErrGameInProgress, err)
	}
	if err != nil {
		return err
	}
	if err := l.store.SaveGame(ctx, code, nil); err != nil {
		return err
	}

	room.Status = internal.StatusWaiting
	room.Game = nil
	logger.Infof("[ResetToLobby] room=%s: back to lobby", code)
	l.out.BroadcastToRoom(code, internal.Message[any]{
		Type: internal.MsgLobbyReset,
		Data: internal.LobbyResetData{Room: internal.CreateRoomSnapshot(room)},
	})
	return nil
}

// =============================================================================
// PRESENCE
// =============================================================================

// Connect marks a member connected and sends them the current room and
// game. A player who had been shown as disconnected is announced back.
// It runs under the room lock so it cannot interleave with the buffer
// expiry of the same player.
func (l *Lobby) Connect(ctx context.Context, code, playerID string) error {
	mu := l.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	room, err := l.store.Get(ctx, code)
	if err != nil {
		return err
	}
	p := room.PlayerByID(playerID)
	if p == nil {
		return fmt.Errorf("%w: %s", store.ErrPlayerNotFound, playerID)
	}

	wasMarked := l.presence.Reconnect(code, playerID)
	if err := l.store.SetConnected(ctx, code, playerID, true); err != nil {
		return err
	}
	p.Connected = true

	var game internal.GameState = room.Game
	if snap, ok := l.engine.Snapshot(code); ok {
		game = snap
	}
	gameSnap, err := internal.CreateGameSnapshot(game)
	if err != nil {
		logger.Errorf("[Connect] room=%s: %v", code, err)
	}

	l.out.SendToPlayer(code, playerID, internal.Message[any]{
		Type: internal.MsgWelcome,
		Data: internal.WelcomeData{
			PlayerID: playerID,
			Room:     internal.CreateRoomSnapshot(room),
			Game:     gameSnap,
		},
	})
	if wasMarked {
		l.out.BroadcastToRoom(code, internal.Message[any]{
			Type: internal.MsgPlayerReconnected,
			Data: internal.PlayerConnectionData{PlayerID: playerID, Name: p.Name},
		})
	}
	logger.Infof("[Connect] room=%s: %s (%s) connected", code, playerID, p.Name)
	return nil
}

// Disconnect starts the debounce for a lost connection.
func (l *Lobby) Disconnect(code, playerID string) {
	l.presence.Disconnect(code, playerID)
}

// PlayerDisconnected shows the player as disconnected to the room. The
// pending check and the store write happen under the room lock, so a
// reconnect either cancels the mark or lands after it.
func (l *Lobby) PlayerDisconnected(code, playerID string) {
	mu := l.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	if stage, ok := l.presence.Pending(code, playerID); !ok || stage != StageGrace {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := l.store.SetConnected(ctx, code, playerID, false)
	if errors.Is(err, store.ErrRoomNotFound) || errors.Is(err, store.ErrPlayerNotFound) {
		l.presence.Reconnect(code, playerID)
		return
	}
	if err != nil {
		logger.Errorf("[PlayerDisconnected] room=%s: %v", code, err)
	}

	room, err := l.store.Get(ctx, code)
	if err != nil {
		return
	}
	name := ""
	if p := room.PlayerByID(playerID); p != nil {
		name = p.Name
	}
	l.out.BroadcastToRoom(code, internal.Message[any]{
		Type: internal.MsgPlayerDisconnected,
		Data: internal.PlayerConnectionData{PlayerID: playerID, Name: name},
	})
}

// PlayerExpired removes a player whose grace window ran out.
func (l *Lobby) PlayerExpired(code, playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := l.RemovePlayer(ctx, code, playerID); err != nil {
		logger.Warnf("[PlayerExpired] room=%s: %v", code, err)
	}
}

// =============================================================================
// RESTART RECOVERY
// =============================================================================

// Recover prepares rooms left behind by a previous process. Nobody holds a
// socket yet, so every player starts disconnected and empty rooms become
// visible to the sweeper. Countdowns go back to waiting and games whose
// timers are gone end, so the host can start again.
func (l *Lobby) Recover(ctx context.Context) (int, error) {
	if err := l.store.ResetConnections(ctx); err != nil {
		return 0, fmt.Errorf("reset connections: %w", err)
	}
	rooms, err := l.store.List(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, room := range rooms {
		switch room.Status {
		case internal.StatusCountdown:
			l.mu.Lock()
			_, counting := l.countdowns[room.Code]
			l.mu.Unlock()
			if counting {
				continue
			}
			err = l.store.TransitionStatus(ctx, room.Code, internal.StatusCountdown, internal.StatusWaiting)
		case internal.StatusActive:
			if l.engine.Running(room.Code) {
				continue
			}
			err = l.endOrphanedGame(ctx, room)
		default:
			continue
		}
		if errors.Is(err, store.ErrRoomNotFound) || errors.Is(err, store.ErrStatusConflict) {
			continue
		}
		if err != nil {
			logger.Errorf("[Recover] room=%s: %v", room.Code, err)
			continue
		}
		logger.Infof("[Recover] room=%s: %s game recovered", room.Code, room.Status)
		recovered++
	}
	return recovered, nil
}

func (l *Lobby) endOrphanedGame(ctx context.Context, room *internal.Room) error {
	if err := l.store.TransitionStatus(ctx, room.Code, internal.StatusActive, internal.StatusFinished); err != nil {
		return err
	}
	state, ok := room.Game.(*internal.SimonState)
	if !ok || state == nil {
		return nil
	}
	state.Phase = internal.PhaseFinished
	state.TimeoutAt = nil
	state.Submissions = make(map[string]*internal.Submission)
	state.Winner = DetermineWinner(state, room.PlayerIDs())
	return l.store.SaveGame(ctx, room.Code, state)
}

func requireHost(room *internal.Room, playerID string) error {
	p := room.PlayerByID(playerID)
	if p == nil {
		return fmt.Errorf("%w: %s", store.ErrPlayerNotFound, playerID)
	}
	if !p.IsHost {
		return ErrNotHost
	}
	return nil
}

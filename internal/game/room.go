package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
	"github.com/yonatanbiwix/simon-game-app/internal/utils"
)

// =============================================================================
// ROOM MANAGEMENT
// =============================================================================

const (
	MaxNameLength      = 20
	roomCodeRetryLimit = 5
)

// CreateRoom opens a waiting room with hostName as its host.
func (l *Lobby) CreateRoom(ctx context.Context, hostName string) (*internal.Room, *internal.Player, error) {
	name, err := cleanName(hostName)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	host := &internal.Player{
		ID:       uuid.NewString(),
		Name:     name,
		IsHost:   true,
		JoinedAt: now,
	}

	for range roomCodeRetryLimit {
		room := &internal.Room{
			Code:      utils.GenerateRoomCode(utils.RoomCodeLength),
			Status:    internal.StatusWaiting,
			Players:   []*internal.Player{host},
			CreatedAt: now,
		}
		err = l.store.Create(ctx, room)
		if errors.Is(err, store.ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("[CreateRoom] room=%s: created by %s (%s)", room.Code, host.ID, host.Name)
		return room, host, nil
	}
	return nil, nil, fmt.Errorf("no free room code after %d attempts: %w", roomCodeRetryLimit, err)
}

// JoinRoom adds a player to a waiting room.
func (l *Lobby) JoinRoom(ctx context.Context, code, playerName string) (*internal.Room, *internal.Player, error) {
	name, err := cleanName(playerName)
	if err != nil {
		return nil, nil, err
	}

	mu := l.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	room, err := l.store.Get(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if room.Status != internal.StatusWaiting {
		return nil, nil, fmt.Errorf("%w: room is %s", ErrGameInProgress, room.Status)
	}
	if len(room.Players) >= l.cfg.Game.MaxPlayers {
		return nil, nil, fmt.Errorf("%w: %d/%d", ErrRoomFull, len(room.Players), l.cfg.Game.MaxPlayers)
	}

	player := &internal.Player{
		ID:       uuid.NewString(),
		Name:     name,
		JoinedAt: time.Now(),
	}
	if err := l.store.AddPlayer(ctx, code, player); err != nil {
		return nil, nil, err
	}
	room.Players = append(room.Players, player)

	logger.Infof("[JoinRoom] room=%s: %s (%s) joined, %d players", code, player.ID, player.Name, len(room.Players))
	l.out.BroadcastToRoom(code, internal.Message[any]{
		Type: internal.MsgPlayerJoined,
		Data: internal.PlayerJoinedData{
			Player:      internal.CreatePlayerSnapshot(player),
			PlayerCount: len(room.Players),
			CanStart:    len(room.Players) >= l.cfg.Game.MinPlayers,
		},
	})
	return room, player, nil
}

// RemovePlayer takes a player out of the room, hands the host role on and
// closes the room once it is empty.
func (l *Lobby) RemovePlayer(ctx context.Context, code, playerID string) error {
	mu := l.roomLock(code)
	mu.Lock()
	res, err := l.store.RemovePlayer(ctx, code, playerID)
	mu.Unlock()
	if err != nil {
		return err
	}

	logger.Infof("[RemovePlayer] room=%s: %s left, %d remaining", code, playerID, res.Remaining)
	l.out.BroadcastToRoom(code, internal.Message[any]{
		Type: internal.MsgPlayerLeft,
		Data: internal.PlayerLeftData{PlayerID: playerID, Name: res.Player.Name, PlayerCount: res.Remaining},
	})
	if res.NewHost != nil {
		l.out.BroadcastToRoom(code, internal.Message[any]{
			Type: internal.MsgHostChanged,
			Data: internal.HostChangedData{PlayerID: res.NewHost.ID, Name: res.NewHost.Name},
		})
	}

	l.engine.RemovePlayer(code, playerID)

	if res.Remaining == 0 {
		return l.CloseRoom(ctx, code)
	}
	return nil
}

// CloseRoom cancels everything pending for the room and deletes it.
func (l *Lobby) CloseRoom(ctx context.Context, code string) error {
	l.mu.Lock()
	if t, ok := l.countdowns[code]; ok {
		t.Stop()
		delete(l.countdowns, code)
	}
	l.mu.Unlock()

	l.engine.CloseRoom(code)
	l.presence.ForgetRoom(code)
	l.roomLocks.Delete(code)

	err := l.store.Delete(ctx, code)
	if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		return err
	}
	logger.Infof("[CloseRoom] room=%s: closed", code)
	return nil
}

// Room returns a copy of the room.
func (l *Lobby) Room(ctx context.Context, code string) (*internal.Room, error) {
	return l.store.Get(ctx, code)
}

// Member checks that playerID still belongs to the room.
func (l *Lobby) Member(ctx context.Context, code, playerID string) (*internal.Room, *internal.Player, error) {
	room, err := l.store.Get(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	p := room.PlayerByID(playerID)
	if p == nil {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrPlayerNotFound, playerID)
	}
	return room, p, nil
}

// AvailableRoom returns the oldest waiting room that still has a free seat.
func (l *Lobby) AvailableRoom(ctx context.Context) (string, error) {
	rooms, err := l.store.List(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range rooms {
		if r.Status == internal.StatusWaiting && len(r.Players) < l.cfg.Game.MaxPlayers {
			return r.Code, nil
		}
	}
	return "", store.ErrRoomNotFound
}

// Sweep closes rooms that have had nobody connected for longer than the
// retention window.
func (l *Lobby) Sweep(ctx context.Context, now time.Time) (int, error) {
	codes, err := l.store.IdleRooms(ctx, now.Add(-l.cfg.Sweep.Retention))
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, code := range codes {
		if err := l.CloseRoom(ctx, code); err != nil {
			logger.Errorf("[Sweep] room=%s: %v", code, err)
			continue
		}
		closed++
	}
	if closed > 0 {
		logger.Infof("[Sweep] closed %d idle rooms", closed)
	}
	return closed, nil
}

func (l *Lobby) roomLock(code string) *sync.Mutex {
	mu, _ := l.roomLocks.LoadOrStore(code, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: must be 1-%d characters", ErrInvalidName, MaxNameLength)
	}
	return name, nil
}

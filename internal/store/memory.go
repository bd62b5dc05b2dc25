package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal"
)

// MemoryStore keeps rooms in process memory.
type MemoryStore struct {
	rooms map[string]*internal.Room
	mu    sync.RWMutex
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*internal.Room),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, room *internal.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.Code]; exists {
		return fmt.Errorf("%w: %s", ErrRoomExists, room.Code)
	}
	r := room.Clone()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.EmptySince = nil
	s.refreshEmptySince(r)
	s.rooms[r.Code] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, code string) (*internal.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, exists := s.rooms[code]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return room.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*internal.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*internal.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r.Clone())
	}
	slices.SortFunc(rooms, func(a, b *internal.Room) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return rooms, nil
}

func (s *MemoryStore) AddPlayer(_ context.Context, code string, player *internal.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, exists := s.rooms[code]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	if room.HasPlayer(player.ID) {
		return fmt.Errorf("%w: %s", ErrPlayerExists, player.ID)
	}
	p := *player
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	room.Players = append(room.Players, &p)
	s.refreshEmptySince(room)
	return nil
}

func (s *MemoryStore) RemovePlayer(_ context.Context, code, playerID string) (RemovalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, exists := s.rooms[code]
	if !exists {
		return RemovalResult{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	idx := slices.IndexFunc(room.Players, func(p *internal.Player) bool { return p.ID == playerID })
	if idx < 0 {
		return RemovalResult{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	removed := room.Players[idx]
	room.Players = slices.Delete(room.Players, idx, idx+1)

	res := RemovalResult{Remaining: len(room.Players)}
	removedCopy := *removed
	res.Player = &removedCopy
	if removed.IsHost && len(room.Players) > 0 {
		room.Players[0].IsHost = true
		host := *room.Players[0]
		res.NewHost = &host
	}
	s.refreshEmptySince(room)
	return res, nil
}

func (s *MemoryStore) SetConnected(_ context.Context, code, playerID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, exists := s.rooms[code]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	p := room.PlayerByID(playerID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	p.Connected = connected
	s.refreshEmptySince(room)
	return nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, code string, from, to internal.RoomStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, exists := s.rooms[code]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	if room.Status != from {
		return fmt.Errorf("%w: %s is %s, not %s", ErrStatusConflict, code, room.Status, from)
	}
	room.Status = to
	return nil
}

func (s *MemoryStore) SaveGame(_ context.Context, code string, game internal.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, exists := s.rooms[code]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	if game == nil {
		room.Game = nil
		return nil
	}
	room.Game = game.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[code]; !exists {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	delete(s.rooms, code)
	return nil
}

func (s *MemoryStore) IdleRooms(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var codes []string
	for code, r := range s.rooms {
		if r.EmptySince != nil && r.EmptySince.Before(cutoff) {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func (s *MemoryStore) ResetConnections(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		for _, p := range room.Players {
			p.Connected = false
		}
		s.refreshEmptySince(room)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// must be called with s.mu held
func (s *MemoryStore) refreshEmptySince(room *internal.Room) {
	if room.ConnectedCount() > 0 {
		room.EmptySince = nil
		return
	}
	if room.EmptySince == nil {
		now := s.now()
		room.EmptySince = &now
	}
}

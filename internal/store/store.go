package store

import (
	"context"
	"errors"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomExists     = errors.New("room already exists")
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerExists   = errors.New("player already in room")
	ErrStatusConflict = errors.New("room status does not match")
	ErrUnexpected     = errors.New("unexpected store error")
)

// RemovalResult describes the room after a player was removed.
type RemovalResult struct {
	Player    *internal.Player
	Remaining int
	// NewHost is set when the removed player was host and someone took over.
	NewHost *internal.Player
}

// RoomStore owns room and player records. Every method returns copies;
// mutating a returned room does not change the store.
type RoomStore interface {
	Create(ctx context.Context, room *internal.Room) error
	Get(ctx context.Context, code string) (*internal.Room, error)
	List(ctx context.Context) ([]*internal.Room, error)
	AddPlayer(ctx context.Context, code string, player *internal.Player) error
	RemovePlayer(ctx context.Context, code, playerID string) (RemovalResult, error)
	SetConnected(ctx context.Context, code, playerID string, connected bool) error
	// TransitionStatus moves the room from one status to another atomically
	// and fails with ErrStatusConflict when the room is not in from.
	TransitionStatus(ctx context.Context, code string, from, to internal.RoomStatus) error
	SaveGame(ctx context.Context, code string, game internal.GameState) error
	Delete(ctx context.Context, code string) error
	// IdleRooms lists rooms with no connected player since before cutoff.
	IdleRooms(ctx context.Context, cutoff time.Time) ([]string, error)
	// ResetConnections marks every player disconnected. Rooms left without a
	// connected player start their empty window now unless one is running.
	ResetConnections(ctx context.Context) error
	Close() error
}

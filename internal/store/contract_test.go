package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
)

func newRoom(code string, players ...*internal.Player) *internal.Room {
	return &internal.Room{
		Code:      code,
		Status:    internal.StatusWaiting,
		Players:   players,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func newPlayer(id, name string, host bool) *internal.Player {
	return &internal.Player{
		ID:       id,
		Name:     name,
		IsHost:   host,
		JoinedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// testRoomStore runs the behavior every RoomStore implementation shares.
func testRoomStore(t *testing.T, s store.RoomStore) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("CRTGET", newPlayer("p1", "alice", true))))

		room, err := s.Get(ctx, "CRTGET")
		require.NoError(t, err)
		assert.Equal(t, internal.StatusWaiting, room.Status)
		require.Len(t, room.Players, 1)
		assert.Equal(t, "alice", room.Players[0].Name)
		assert.True(t, room.Players[0].IsHost)
		assert.Nil(t, room.Game)
		assert.NotNil(t, room.EmptySince, "a room with nobody connected is empty")
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("DUPLCT")))
		assert.ErrorIs(t, s.Create(ctx, newRoom("DUPLCT")), store.ErrRoomExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, "NOROOM")
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})

	t.Run("ReturnedRoomIsACopy", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("COPYRM", newPlayer("p1", "alice", true))))
		room, err := s.Get(ctx, "COPYRM")
		require.NoError(t, err)
		room.Players[0].Name = "mallory"
		room.Status = internal.StatusActive

		again, err := s.Get(ctx, "COPYRM")
		require.NoError(t, err)
		assert.Equal(t, "alice", again.Players[0].Name)
		assert.Equal(t, internal.StatusWaiting, again.Status)
	})

	t.Run("AddPlayerKeepsSeatOrder", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("SEATS2", newPlayer("p1", "alice", true))))
		require.NoError(t, s.AddPlayer(ctx, "SEATS2", newPlayer("p2", "bob", false)))
		require.NoError(t, s.AddPlayer(ctx, "SEATS2", newPlayer("p3", "carol", false)))

		assert.ErrorIs(t, s.AddPlayer(ctx, "SEATS2", newPlayer("p2", "bob", false)), store.ErrPlayerExists)
		assert.ErrorIs(t, s.AddPlayer(ctx, "NOROOM", newPlayer("p9", "x", false)), store.ErrRoomNotFound)

		room, err := s.Get(ctx, "SEATS2")
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2", "p3"}, room.PlayerIDs())
	})

	t.Run("RemoveHostPromotesNextSeat", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("HOSTRM", newPlayer("p1", "alice", true))))
		require.NoError(t, s.AddPlayer(ctx, "HOSTRM", newPlayer("p2", "bob", false)))
		require.NoError(t, s.AddPlayer(ctx, "HOSTRM", newPlayer("p3", "carol", false)))

		res, err := s.RemovePlayer(ctx, "HOSTRM", "p1")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)
		assert.Equal(t, "alice", res.Player.Name)
		require.NotNil(t, res.NewHost)
		assert.Equal(t, "p2", res.NewHost.ID)

		room, err := s.Get(ctx, "HOSTRM")
		require.NoError(t, err)
		assert.Equal(t, "p2", room.Host().ID)

		res, err = s.RemovePlayer(ctx, "HOSTRM", "p3")
		require.NoError(t, err)
		assert.Nil(t, res.NewHost)
		assert.Equal(t, 1, res.Remaining)

		_, err = s.RemovePlayer(ctx, "HOSTRM", "p3")
		assert.ErrorIs(t, err, store.ErrPlayerNotFound)
		_, err = s.RemovePlayer(ctx, "NOROOM", "p3")
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})

	t.Run("TransitionStatus", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("STATUS")))

		require.NoError(t, s.TransitionStatus(ctx, "STATUS", internal.StatusWaiting, internal.StatusCountdown))
		err := s.TransitionStatus(ctx, "STATUS", internal.StatusWaiting, internal.StatusCountdown)
		assert.ErrorIs(t, err, store.ErrStatusConflict)

		err = s.TransitionStatus(ctx, "NOROOM", internal.StatusWaiting, internal.StatusCountdown)
		assert.ErrorIs(t, err, store.ErrRoomNotFound)

		room, err := s.Get(ctx, "STATUS")
		require.NoError(t, err)
		assert.Equal(t, internal.StatusCountdown, room.Status)
	})

	t.Run("SaveGame", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("SAVEGM", newPlayer("p1", "alice", true))))
		state := internal.NewSimonState([]string{"p1"}, []internal.Color{internal.ColorRed, internal.ColorBlue})
		require.NoError(t, s.SaveGame(ctx, "SAVEGM", state))

		state.Round = 9
		room, err := s.Get(ctx, "SAVEGM")
		require.NoError(t, err)
		simon, ok := room.Game.(*internal.SimonState)
		require.True(t, ok)
		assert.Equal(t, 1, simon.Round)
		assert.Equal(t, []internal.Color{internal.ColorRed, internal.ColorBlue}, simon.Sequence)
		assert.Equal(t, internal.PlayerPlaying, simon.Players["p1"].Status)

		require.NoError(t, s.SaveGame(ctx, "SAVEGM", nil))
		room, err = s.Get(ctx, "SAVEGM")
		require.NoError(t, err)
		assert.Nil(t, room.Game)

		assert.ErrorIs(t, s.SaveGame(ctx, "NOROOM", state), store.ErrRoomNotFound)
	})

	t.Run("IdleRoomsFollowConnections", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("IDLERM", newPlayer("p1", "alice", true))))

		codes, err := s.IdleRooms(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Contains(t, codes, "IDLERM")

		require.NoError(t, s.SetConnected(ctx, "IDLERM", "p1", true))
		codes, err = s.IdleRooms(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.NotContains(t, codes, "IDLERM")

		require.NoError(t, s.SetConnected(ctx, "IDLERM", "p1", false))
		codes, err = s.IdleRooms(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.NotContains(t, codes, "IDLERM", "emptied just now")

		assert.ErrorIs(t, s.SetConnected(ctx, "IDLERM", "ghost", true), store.ErrPlayerNotFound)
		assert.ErrorIs(t, s.SetConnected(ctx, "NOROOM", "p1", true), store.ErrRoomNotFound)
	})

	t.Run("ResetConnections", func(t *testing.T) {
		alice := newPlayer("p1", "alice", true)
		alice.Connected = true
		require.NoError(t, s.Create(ctx, newRoom("RESETC", alice, newPlayer("p2", "bob", false))))
		require.NoError(t, s.Create(ctx, newRoom("RESETE", newPlayer("p1", "cat", true))))
		before, err := s.Get(ctx, "RESETE")
		require.NoError(t, err)
		require.NotNil(t, before.EmptySince)

		codes, err := s.IdleRooms(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NotContains(t, codes, "RESETC")

		require.NoError(t, s.ResetConnections(ctx))

		room, err := s.Get(ctx, "RESETC")
		require.NoError(t, err)
		for _, p := range room.Players {
			assert.False(t, p.Connected, p.ID)
		}
		require.NotNil(t, room.EmptySince)

		codes, err = s.IdleRooms(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Contains(t, codes, "RESETC")

		after, err := s.Get(ctx, "RESETE")
		require.NoError(t, err)
		require.NotNil(t, after.EmptySince)
		assert.True(t, before.EmptySince.Equal(*after.EmptySince), "an empty window already running is kept")
	})

	t.Run("DeleteAndList", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newRoom("LISTED", newPlayer("p1", "alice", true))))

		rooms, err := s.List(ctx)
		require.NoError(t, err)
		var found *internal.Room
		for _, r := range rooms {
			if r.Code == "LISTED" {
				found = r
			}
		}
		require.NotNil(t, found)
		assert.Len(t, found.Players, 1)

		require.NoError(t, s.Delete(ctx, "LISTED"))
		assert.ErrorIs(t, s.Delete(ctx, "LISTED"), store.ErrRoomNotFound)
		_, err = s.Get(ctx, "LISTED")
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})
}

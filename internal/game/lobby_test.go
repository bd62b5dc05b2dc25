package game

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
	"github.com/yonatanbiwix/simon-game-app/internal/utils"
)

func newTestLobby(t *testing.T) (*Lobby, *store.MemoryStore, *recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &recorder{}
	l := NewLobby(testConfig(), st, rec, WithColorSource(cycleColors(red, blue, green, yellow)))
	return l, st, rec
}

func TestCreateAndJoinRoom(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, st, rec := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()

		room, host, err := l.CreateRoom(ctx, "  alice ")
		require.NoError(t, err)
		assert.True(t, utils.ValidRoomCode(room.Code))
		assert.Equal(t, "alice", host.Name)
		assert.True(t, host.IsHost)
		assert.Equal(t, internal.StatusWaiting, room.Status)

		_, bob, err := l.JoinRoom(ctx, room.Code, "bob")
		require.NoError(t, err)
		assert.False(t, bob.IsHost)
		assert.NotEqual(t, host.ID, bob.ID)

		joined := rec.last(t, internal.MsgPlayerJoined).msg.Data.(internal.PlayerJoinedData)
		assert.Equal(t, 2, joined.PlayerCount)
		assert.True(t, joined.CanStart)

		stored, err := st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, []string{host.ID, bob.ID}, stored.PlayerIDs())

		code, err := l.AvailableRoom(ctx)
		require.NoError(t, err)
		assert.Equal(t, room.Code, code)
	})
}

func TestJoinRoomRejections(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, _, _ := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()

		_, _, err := l.CreateRoom(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidName)
		_, _, err = l.CreateRoom(ctx, strings.Repeat("x", MaxNameLength+1))
		assert.ErrorIs(t, err, ErrInvalidName)

		_, _, err = l.JoinRoom(ctx, "NOROOM", "bob")
		assert.ErrorIs(t, err, store.ErrRoomNotFound)

		room, _, err := l.CreateRoom(ctx, "host")
		require.NoError(t, err)
		for i := 1; i < l.cfg.Game.MaxPlayers; i++ {
			_, _, err := l.JoinRoom(ctx, room.Code, "guest")
			require.NoError(t, err)
		}
		_, _, err = l.JoinRoom(ctx, room.Code, "late")
		assert.ErrorIs(t, err, ErrRoomFull)

		_, err = l.AvailableRoom(ctx)
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})
}

func TestStartGameRules(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, _, _ := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()

		room, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		assert.ErrorIs(t, l.StartGame(ctx, room.Code, host.ID), ErrNotEnoughPlayers)

		_, bob, err := l.JoinRoom(ctx, room.Code, "bob")
		require.NoError(t, err)
		assert.ErrorIs(t, l.StartGame(ctx, room.Code, bob.ID), ErrNotHost)
		assert.ErrorIs(t, l.StartGame(ctx, room.Code, "stranger"), store.ErrPlayerNotFound)

		require.NoError(t, l.StartGame(ctx, room.Code, host.ID))
		assert.ErrorIs(t, l.StartGame(ctx, room.Code, host.ID), ErrGameInProgress)

		_, _, err = l.JoinRoom(ctx, room.Code, "carol")
		assert.ErrorIs(t, err, ErrGameInProgress)
	})
}

func TestCountdownBeginsGame(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, st, rec := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()

		room, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		_, _, err = l.JoinRoom(ctx, room.Code, "bob")
		require.NoError(t, err)

		require.NoError(t, l.StartGame(ctx, room.Code, host.ID))
		countdown := rec.last(t, internal.MsgCountdownStart).msg.Data.(internal.CountdownData)
		assert.Equal(t, 3, countdown.Seconds)

		stored, err := st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusCountdown, stored.Status)
		assert.False(t, l.Engine().Running(room.Code))

		time.Sleep(l.cfg.Game.CountdownDuration + time.Millisecond)
		synctest.Wait()

		assert.True(t, l.Engine().Running(room.Code))
		stored, err = st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusActive, stored.Status)
		assert.Equal(t, 1, rec.count(internal.MsgSequenceDisplayStart))
	})
}

func TestCountdownReturnsToLobbyWhenPlayersLeave(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, st, rec := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()

		room, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		_, bob, err := l.JoinRoom(ctx, room.Code, "bob")
		require.NoError(t, err)
		require.NoError(t, l.StartGame(ctx, room.Code, host.ID))

		require.NoError(t, l.RemovePlayer(ctx, room.Code, bob.ID))
		time.Sleep(l.cfg.Game.CountdownDuration + time.Millisecond)
		synctest.Wait()

		assert.False(t, l.Engine().Running(room.Code))
		assert.Equal(t, 1, rec.count(internal.MsgLobbyReset))
		stored, err := st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusWaiting, stored.Status)
	})
}

func TestConnectSendsWelcome(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, st, rec := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()

		room, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)

		require.NoError(t, l.Connect(ctx, room.Code, host.ID))

		welcome := rec.last(t, internal.MsgWelcome)
		assert.Equal(t, host.ID, welcome.to)
		data := welcome.msg.Data.(internal.WelcomeData)
		assert.Equal(t, room.Code, data.Room.Code)
		assert.Nil(t, data.Game)
		assert.Equal(t, 0, rec.count(internal.MsgPlayerReconnected))

		stored, err := st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.True(t, stored.Players[0].Connected)
		assert.Nil(t, stored.EmptySince)

		assert.ErrorIs(t, l.Connect(ctx, room.Code, "stranger"), store.ErrPlayerNotFound)
		assert.ErrorIs(t, l.Connect(ctx, "NOROOM", host.ID), store.ErrRoomNotFound)
	})
}

func TestDisconnectDebounce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, st, rec := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()
		buffer, grace := l.cfg.Presence.Buffer, l.cfg.Presence.Grace

		room, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		_, bob, err := l.JoinRoom(ctx, room.Code, "bob")
		require.NoError(t, err)
		require.NoError(t, l.Connect(ctx, room.Code, host.ID))
		require.NoError(t, l.Connect(ctx, room.Code, bob.ID))

		// a blip shorter than the buffer is invisible
		l.Disconnect(room.Code, bob.ID)
		time.Sleep(buffer / 2)
		require.NoError(t, l.Connect(ctx, room.Code, bob.ID))
		time.Sleep(buffer)
		synctest.Wait()
		assert.Equal(t, 0, rec.count(internal.MsgPlayerDisconnected))

		// past the buffer the room is told, reconnecting announces the return
		l.Disconnect(room.Code, bob.ID)
		time.Sleep(buffer + time.Millisecond)
		synctest.Wait()
		assert.Equal(t, 1, rec.count(internal.MsgPlayerDisconnected))
		stored, err := st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.False(t, stored.PlayerByID(bob.ID).Connected)

		require.NoError(t, l.Connect(ctx, room.Code, bob.ID))
		assert.Equal(t, 1, rec.count(internal.MsgPlayerReconnected))

		// the host vanishes for good
		l.Disconnect(room.Code, host.ID)
		time.Sleep(buffer + grace + time.Millisecond)
		synctest.Wait()

		left := rec.last(t, internal.MsgPlayerLeft).msg.Data.(internal.PlayerLeftData)
		assert.Equal(t, host.ID, left.PlayerID)
		assert.Equal(t, 1, left.PlayerCount)
		changed := rec.last(t, internal.MsgHostChanged).msg.Data.(internal.HostChangedData)
		assert.Equal(t, bob.ID, changed.PlayerID)

		stored, err = st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, []string{bob.ID}, stored.PlayerIDs())
		assert.True(t, stored.Players[0].IsHost)

		// the last player leaving closes the room
		l.Disconnect(room.Code, bob.ID)
		time.Sleep(buffer + grace + time.Millisecond)
		synctest.Wait()
		_, err = st.Get(ctx, room.Code)
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})
}

// interposingStore runs beforeDisconnect once, just before the first write
// that marks a player disconnected reaches the store.
type interposingStore struct {
	store.RoomStore
	once             sync.Once
	beforeDisconnect func()
}

func (s *interposingStore) SetConnected(ctx context.Context, code, playerID string, connected bool) error {
	if !connected {
		s.once.Do(s.beforeDisconnect)
	}
	return s.RoomStore.SetConnected(ctx, code, playerID, connected)
}

// Runs on the real clock: the reconnect blocks on a mutex, which a
// synctest bubble does not treat as durably blocked.
func TestReconnectDuringDisconnectMark(t *testing.T) {
	cfg := testConfig()
	cfg.Presence.Buffer = 10 * time.Millisecond
	cfg.Presence.Grace = time.Hour

	mem := store.NewMemoryStore()
	st := &interposingStore{RoomStore: mem}
	rec := &recorder{}
	l := NewLobby(cfg, st, rec)
	defer l.Close()
	ctx := context.Background()

	room, host, err := l.CreateRoom(ctx, "alice")
	require.NoError(t, err)
	_, bob, err := l.JoinRoom(ctx, room.Code, "bob")
	require.NoError(t, err)
	require.NoError(t, l.Connect(ctx, room.Code, host.ID))
	require.NoError(t, l.Connect(ctx, room.Code, bob.ID))

	reconnected := make(chan error, 1)
	st.beforeDisconnect = func() {
		go func() { reconnected <- l.Connect(ctx, room.Code, bob.ID) }()
		time.Sleep(50 * time.Millisecond)
	}

	l.Disconnect(room.Code, bob.ID)
	select {
	case err := <-reconnected:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect never finished")
	}
	require.Eventually(t, func() bool {
		return rec.count(internal.MsgPlayerReconnected) == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, rec.count(internal.MsgPlayerDisconnected))
	types := rec.types()
	assert.Less(t, slices.Index(types, internal.MsgPlayerDisconnected), slices.Index(types, internal.MsgPlayerReconnected),
		"the room hears about the drop before the return")

	stored, err := mem.Get(ctx, room.Code)
	require.NoError(t, err)
	assert.True(t, stored.PlayerByID(bob.ID).Connected)
	assert.Nil(t, stored.EmptySince)
	_, pending := l.Presence().Pending(room.Code, bob.ID)
	assert.False(t, pending, "nothing left to expire")
}

func TestDisconnectedPlayerKeepsGameRole(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, _, rec := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()
		cfg := l.cfg

		room, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		_, bob, err := l.JoinRoom(ctx, room.Code, "bob")
		require.NoError(t, err)
		require.NoError(t, l.StartGame(ctx, room.Code, host.ID))
		time.Sleep(cfg.Game.CountdownDuration + cfg.Game.DisplayDuration(1) + time.Millisecond)
		synctest.Wait()

		// bob is shown as disconnected but still counts towards quorum
		l.Disconnect(room.Code, bob.ID)
		time.Sleep(cfg.Presence.Buffer + time.Millisecond)
		synctest.Wait()
		l.Engine().SubmitFullSequence(room.Code, host.ID, []internal.Color{red})
		assert.Equal(t, 0, rec.count(internal.MsgRoundResult))

		state, ok := l.Engine().Snapshot(room.Code)
		require.True(t, ok)
		assert.Equal(t, internal.PlayerPlaying, state.Players[bob.ID].Status)

		// the welcome on reconnect carries the running game
		require.NoError(t, l.Connect(ctx, room.Code, bob.ID))
		welcome := rec.last(t, internal.MsgWelcome).msg.Data.(internal.WelcomeData)
		require.NotNil(t, welcome.Game)
		assert.Equal(t, internal.PhasePlayerInput, welcome.Game.Phase)
		assert.Equal(t, []string{host.ID}, welcome.Game.Submitted)
		assert.Empty(t, welcome.Game.Sequence, "sequence is hidden during input")
	})
}

func TestResetToLobbyAfterFinish(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, st, rec := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()
		cfg := l.cfg.Game

		room, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		_, bob, err := l.JoinRoom(ctx, room.Code, "bob")
		require.NoError(t, err)

		assert.ErrorIs(t, l.ResetToLobby(ctx, room.Code, host.ID), ErrGameInProgress, "nothing to reset yet")

		require.NoError(t, l.StartGame(ctx, room.Code, host.ID))
		time.Sleep(cfg.CountdownDuration + cfg.DisplayDuration(1) + time.Millisecond)
		synctest.Wait()
		l.Engine().SubmitFullSequence(room.Code, host.ID, []internal.Color{red})
		l.Engine().SubmitFullSequence(room.Code, bob.ID, []internal.Color{yellow})
		time.Sleep(cfg.RoundResultDelay + time.Millisecond)
		synctest.Wait()
		require.Equal(t, 1, rec.count(internal.MsgGameFinished))

		assert.ErrorIs(t, l.ResetToLobby(ctx, room.Code, bob.ID), ErrNotHost)
		require.NoError(t, l.ResetToLobby(ctx, room.Code, host.ID))

		stored, err := st.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusWaiting, stored.Status)
		assert.Nil(t, stored.Game)
		assert.Equal(t, 1, rec.count(internal.MsgLobbyReset))

		require.NoError(t, l.StartGame(ctx, room.Code, host.ID), "a new game can start")
	})
}

func TestSweepClosesIdleRooms(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l, st, _ := newTestLobby(t)
		defer l.Close()
		ctx := context.Background()

		idle, _, err := l.CreateRoom(ctx, "ghost")
		require.NoError(t, err)
		busy, host, err := l.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		require.NoError(t, l.Connect(ctx, busy.Code, host.ID))

		n, err := l.Sweep(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, n, "inside the retention window")

		sweeper := NewSweeper(l, l.cfg.Sweep.Interval)
		runCtx, cancel := context.WithCancel(ctx)
		go sweeper.Run(runCtx)

		time.Sleep(l.cfg.Sweep.Retention + l.cfg.Sweep.Interval + time.Millisecond)
		synctest.Wait()
		cancel()
		synctest.Wait()

		_, err = st.Get(ctx, idle.Code)
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
		_, err = st.Get(ctx, busy.Code)
		assert.NoError(t, err)
	})
}

func TestRecoverAfterRestart(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		st := store.NewMemoryStore()
		before := NewLobby(testConfig(), st, &recorder{})
		defer before.Close()

		waiting, alice, err := before.CreateRoom(ctx, "alice")
		require.NoError(t, err)
		counting, carol, err := before.CreateRoom(ctx, "carol")
		require.NoError(t, err)
		playing, erin, err := before.CreateRoom(ctx, "erin")
		require.NoError(t, err)
		_, frank, err := before.JoinRoom(ctx, playing.Code, "frank")
		require.NoError(t, err)
		for _, m := range []struct{ code, id string }{
			{waiting.Code, alice.ID}, {counting.Code, carol.ID}, {playing.Code, erin.ID}, {playing.Code, frank.ID},
		} {
			require.NoError(t, st.SetConnected(ctx, m.code, m.id, true))
		}

		require.NoError(t, st.TransitionStatus(ctx, counting.Code, internal.StatusWaiting, internal.StatusCountdown))
		require.NoError(t, st.TransitionStatus(ctx, playing.Code, internal.StatusWaiting, internal.StatusCountdown))
		require.NoError(t, st.TransitionStatus(ctx, playing.Code, internal.StatusCountdown, internal.StatusActive))
		state := internal.NewSimonState([]string{erin.ID, frank.ID}, []internal.Color{red, blue})
		state.Round = 2
		state.Phase = internal.PhasePlayerInput
		deadline := time.Now().Add(time.Minute)
		state.TimeoutAt = &deadline
		state.Scores[erin.ID] = 1
		state.Submissions[erin.ID] = &internal.Submission{PlayerID: erin.ID, Order: 1}
		require.NoError(t, st.SaveGame(ctx, playing.Code, state))

		// a new process over the same rooms, with no timers or sockets
		rec := &recorder{}
		l := NewLobby(testConfig(), st, rec, WithColorSource(cycleColors(red, blue, green, yellow)))
		defer l.Close()

		n, err := l.Recover(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		stored, err := st.Get(ctx, counting.Code)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusWaiting, stored.Status)

		stored, err = st.Get(ctx, playing.Code)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusFinished, stored.Status)
		ended := stored.Game.(*internal.SimonState)
		assert.Equal(t, internal.PhaseFinished, ended.Phase)
		assert.Nil(t, ended.TimeoutAt)
		assert.Empty(t, ended.Submissions)
		assert.Empty(t, ended.Winner, "two players were still in")
		assert.Equal(t, 1, ended.Scores[erin.ID])
		for _, p := range stored.Players {
			assert.False(t, p.Connected)
		}
		require.NotNil(t, stored.EmptySince)

		// the host can start over
		require.NoError(t, l.ResetToLobby(ctx, playing.Code, erin.ID))
		require.NoError(t, l.StartGame(ctx, playing.Code, erin.ID))
		assert.ErrorIs(t, l.StartGame(ctx, counting.Code, carol.ID), ErrNotEnoughPlayers, "back in the lobby")

		// rooms nobody returns to are swept
		n, err = l.Sweep(ctx, time.Now().Add(l.cfg.Sweep.Retention+time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		_, err = st.Get(ctx, waiting.Code)
		assert.ErrorIs(t, err, store.ErrRoomNotFound)
	})
}

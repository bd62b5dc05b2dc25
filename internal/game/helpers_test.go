package game

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/config"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
)

type sentMessage struct {
	code string
	to   string
	msg  internal.Message[any]
}

// recorder is a Broadcaster that keeps everything it is asked to send.
type recorder struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recorder) BroadcastToRoom(code string, msg internal.Message[any]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{code: code, msg: msg})
}

func (r *recorder) SendToPlayer(code, playerID string, msg internal.Message[any]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{code: code, to: playerID, msg: msg})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		types = append(types, s.msg.Type)
	}
	return types
}

func (r *recorder) ofType(msgType string) []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentMessage
	for _, s := range r.sent {
		if s.msg.Type == msgType {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) count(msgType string) int {
	return len(r.ofType(msgType))
}

func (r *recorder) last(t *testing.T, msgType string) sentMessage {
	t.Helper()
	msgs := r.ofType(msgType)
	require.NotEmpty(t, msgs, "no %s message sent", msgType)
	return msgs[len(msgs)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// cycleColors returns a color source that repeats colors in order.
func cycleColors(colors ...internal.Color) func() internal.Color {
	var mu sync.Mutex
	i := 0
	return func() internal.Color {
		mu.Lock()
		defer mu.Unlock()
		c := colors[i%len(colors)]
		i++
		return c
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.JWTSecret = "test"
	cfg.Game.TimerTick = 0
	return cfg
}

const testRoom = "ROOM22"

// newActiveGame seeds a room in countdown with the given players and starts
// the engine on it. Call it inside a synctest bubble.
func newActiveGame(t *testing.T, cfg config.Game, players ...string) (*Engine, *store.MemoryStore, *recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &recorder{}
	ctx := context.Background()

	room := &internal.Room{Code: testRoom, Status: internal.StatusCountdown}
	for i, id := range players {
		room.Players = append(room.Players, &internal.Player{
			ID:        id,
			Name:      "name-" + id,
			Connected: true,
			IsHost:    i == 0,
			JoinedAt:  time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}
	require.NoError(t, st.Create(ctx, room))

	e := NewEngine(cfg, st, rec, WithColorSource(cycleColors(
		internal.ColorRed, internal.ColorBlue, internal.ColorGreen, internal.ColorYellow)))
	require.NoError(t, e.Begin(ctx, testRoom))
	return e, st, rec
}

// openInput sleeps through the sequence display of the current round.
func openInput(e *Engine, length int) {
	time.Sleep(e.cfg.DisplayDuration(length) + time.Millisecond)
	synctest.Wait()
}

func gameState(t *testing.T, e *Engine) *internal.SimonState {
	t.Helper()
	state, ok := e.Snapshot(testRoom)
	require.True(t, ok, "no running game")
	return state
}

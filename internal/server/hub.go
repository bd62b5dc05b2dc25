package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = time.Minute
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	outboxSize     = 256
)

// client is one live socket of a player. All writes go through its outbox
// so the game never blocks on a slow connection.
type client struct {
	code     string
	playerID string
	conn     *websocket.Conn

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(code, playerID string, conn *websocket.Conn) *client {
	return &client{
		code:     code,
		playerID: playerID,
		conn:     conn,
		outbox:   make(chan []byte, outboxSize),
		done:     make(chan struct{}),
	}
}

// enqueue never blocks. A client whose outbox is full is dropped.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		logger.Warnf("[Hub] room=%s: outbox full for %s, dropping connection", c.code, c.playerID)
		c.close()
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump drains the outbox and keeps the connection alive with pings.
// It owns every write to the socket.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("[writePump] room=%s: write to %s failed: %v", c.code, c.playerID, err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Hub tracks the live connection of every player and implements
// game.Broadcaster on top of them.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*client
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*client)}
}

// register makes c the player's current connection. A previous connection
// of the same player is closed.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.code]
	if !ok {
		room = make(map[string]*client)
		h.rooms[c.code] = room
	}
	prev := room[c.playerID]
	room[c.playerID] = c
	h.mu.Unlock()

	if prev != nil {
		logger.Infof("[Hub] room=%s: %s reconnected, closing previous socket", c.code, c.playerID)
		prev.close()
	}
}

// unregister removes c only if it is still the player's current
// connection, and reports whether it was.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.code]
	if !ok || room[c.playerID] != c {
		return false
	}
	delete(room, c.playerID)
	if len(room) == 0 {
		delete(h.rooms, c.code)
	}
	return true
}

// Connected returns how many players of the room hold a live socket.
func (h *Hub) Connected(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

func (h *Hub) BroadcastToRoom(code string, msg internal.Message[any]) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[Broadcast] room=%s: marshal %s: %v", code, msg.Type, err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[code]))
	for _, c := range h.rooms[code] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.enqueue(data) {
			sent++
		}
	}
	logger.Debugf("[Broadcast] room=%s: %s to %d/%d players", code, msg.Type, sent, len(clients))
}

func (h *Hub) SendToPlayer(code, playerID string, msg internal.Message[any]) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[SendToPlayer] room=%s: marshal %s: %v", code, msg.Type, err)
		return
	}

	h.mu.RLock()
	c := h.rooms[code][playerID]
	h.mu.RUnlock()

	if c == nil {
		logger.Debugf("[SendToPlayer] room=%s: %s has no live socket for %s", code, playerID, msg.Type)
		return
	}
	c.enqueue(data)
}

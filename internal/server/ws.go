package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/game"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
	"github.com/yonatanbiwix/simon-game-app/internal/utils"
	"golang.org/x/time/rate"
)

const (
	actionRate    = 10
	actionBurst   = 20
	actionTimeout = 5 * time.Second
)

// =============================================================================
// WEBSOCKET CONNECTION HANDLING
// =============================================================================

// HandleWebSocket authenticates the credential, upgrades the connection and
// runs the read loop until the socket closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := utils.NormalizeRoomCode(mux.Vars(r)["code"])
	if !utils.ValidRoomCode(code) {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}

	claims, err := s.creds.Verify(r.URL.Query().Get("token"))
	if err != nil {
		logger.Debugf("[HandleWebSocket] room=%s: rejected credential: %v", code, err)
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}
	if claims.RoomCode != code {
		http.Error(w, "credential is for another room", http.StatusForbidden)
		return
	}

	if _, _, err := s.lobby.Member(r.Context(), code, claims.PlayerID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) || errors.Is(err, store.ErrPlayerNotFound) {
			http.Error(w, "room or player no longer exists", http.StatusNotFound)
			return
		}
		logger.Errorf("[HandleWebSocket] room=%s: %v", code, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[HandleWebSocket] room=%s: upgrade failed: %v", code, err)
		return
	}

	c := newClient(code, claims.PlayerID, conn)
	s.hub.register(c)
	go c.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	err = s.lobby.Connect(ctx, code, claims.PlayerID)
	cancel()
	if err != nil {
		logger.Warnf("[HandleWebSocket] room=%s: connect %s: %v", code, claims.PlayerID, err)
		s.hub.unregister(c)
		c.close()
		return
	}

	s.readPump(c)
}

// readPump processes inbound actions for one connection. When it returns
// the player enters the disconnect debounce, unless a newer socket has
// already replaced this one.
func (s *Server) readPump(c *client) {
	defer func() {
		if s.hub.unregister(c) {
			s.lobby.Disconnect(c.code, c.playerID)
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(actionRate, actionBurst)
	logger.Debugf("[readPump] room=%s: started for %s", c.code, c.playerID)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("[readPump] room=%s: read error for %s: %v", c.code, c.playerID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			s.sendError(c, "too many actions")
			continue
		}

		var msg internal.Message[json.RawMessage]
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debugf("[readPump] room=%s: bad envelope from %s: %v", c.code, c.playerID, err)
			continue
		}
		s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *client, msg internal.Message[json.RawMessage]) {
	logger.Debugf("[dispatch] room=%s: %s from %s", c.code, msg.Type, c.playerID)

	switch msg.Type {
	case internal.MsgStartGame:
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := s.lobby.StartGame(ctx, c.code, c.playerID); err != nil {
			s.sendError(c, actionErrorMessage(err))
		}

	case internal.MsgPlayAgain:
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := s.lobby.ResetToLobby(ctx, c.code, c.playerID); err != nil {
			s.sendError(c, actionErrorMessage(err))
		}

	case internal.MsgSubmitFullSequence:
		var data internal.SubmitFullSequenceData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Debugf("[dispatch] room=%s: bad %s payload: %v", c.code, msg.Type, err)
			return
		}
		if !c.owns(data.RoomCode, data.PlayerID) {
			logger.Debugf("[dispatch] room=%s: %s claimed identity %s/%s", c.code, c.playerID, data.RoomCode, data.PlayerID)
			return
		}
		s.lobby.Engine().SubmitFullSequence(c.code, c.playerID, data.Sequence)

	case internal.MsgSubmitSingleInput:
		var data internal.SubmitSingleInputData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Debugf("[dispatch] room=%s: bad %s payload: %v", c.code, msg.Type, err)
			return
		}
		if !c.owns(data.RoomCode, data.PlayerID) {
			logger.Debugf("[dispatch] room=%s: %s claimed identity %s/%s", c.code, c.playerID, data.RoomCode, data.PlayerID)
			return
		}
		s.lobby.Engine().SubmitSingleInput(c.code, c.playerID, data.Color, data.InputIndex)

	default:
		logger.Debugf("[dispatch] room=%s: unknown message type %q", c.code, msg.Type)
	}
}

// owns reports whether the identity in a payload matches the
// authenticated connection.
func (c *client) owns(roomCode, playerID string) bool {
	return utils.NormalizeRoomCode(roomCode) == c.code && playerID == c.playerID
}

func (s *Server) sendError(c *client, message string) {
	s.hub.SendToPlayer(c.code, c.playerID, internal.Message[any]{
		Type: internal.MsgError,
		Data: internal.ErrorData{Message: message},
	})
}

func actionErrorMessage(err error) string {
	switch {
	case errors.Is(err, game.ErrNotHost):
		return "only the host can do that"
	case errors.Is(err, game.ErrNotEnoughPlayers):
		return "not enough players to start"
	case errors.Is(err, game.ErrGameInProgress):
		return "game already in progress"
	case errors.Is(err, store.ErrStatusConflict):
		return "room is not in the right state"
	case errors.Is(err, store.ErrRoomNotFound), errors.Is(err, store.ErrPlayerNotFound):
		return "room no longer exists"
	default:
		logger.Errorf("[dispatch] unexpected action error: %v", err)
		return "something went wrong"
	}
}

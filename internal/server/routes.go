package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/auth"
	"github.com/yonatanbiwix/simon-game-app/internal/game"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
	"github.com/yonatanbiwix/simon-game-app/internal/utils"
)

const maxBodyBytes = 1 << 12

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)

	r.HandleFunc("/rooms-available", s.GetRoomToJoin).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.CreateRoomHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/rooms/{code}", s.GetRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{code}/join", s.JoinRoomHandler).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/ws/{code}", s.HandleWebSocket)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If it's a websocket upgrade, the upgrader checks the origin
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
		case s.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "false")
			w.Header().Add("Vary", "Origin")
		default:
			logger.Debugf("[corsMiddleware] origin %q not allowed", origin)
		}

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, time.Now().UnixMilli(), http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) GetRoomToJoin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	code, err := s.lobby.AvailableRoom(r.Context())
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		writeResponse(w, startTime, http.StatusNotFound, "No joinable rooms available")
	case err != nil:
		logger.Errorf("[GetRoomToJoin] %v", err)
		writeResponse(w, startTime, http.StatusInternalServerError, "Internal server error")
	default:
		writeResponse(w, startTime, http.StatusOK, code)
	}
}

type playerRequest struct {
	Name string `json:"name"`
}

// SessionData is returned to a player who created or joined a room. The
// token authenticates their websocket and any reconnect.
type SessionData struct {
	PlayerID string                `json:"player_id"`
	Token    string                `json:"token"`
	Room     internal.RoomSnapshot `json:"room"`
}

func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	var req playerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeResponse(w, startTime, http.StatusBadRequest, "Invalid request body")
		return
	}

	room, player, err := s.lobby.CreateRoom(r.Context(), req.Name)
	if err != nil {
		status, msg := lobbyErrorStatus(err)
		if status == http.StatusInternalServerError {
			logger.Errorf("[CreateRoomHandler] %v", err)
		}
		writeResponse(w, startTime, status, msg)
		return
	}
	s.writeSession(w, startTime, http.StatusCreated, room, player)
}

func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	code := utils.NormalizeRoomCode(mux.Vars(r)["code"])
	if !utils.ValidRoomCode(code) {
		writeResponse(w, startTime, http.StatusBadRequest, "Invalid room code")
		return
	}

	var req playerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeResponse(w, startTime, http.StatusBadRequest, "Invalid request body")
		return
	}

	room, player, err := s.lobby.JoinRoom(r.Context(), code, req.Name)
	if err != nil {
		status, msg := lobbyErrorStatus(err)
		if status == http.StatusInternalServerError {
			logger.Errorf("[JoinRoomHandler] room=%s: %v", code, err)
		}
		writeResponse(w, startTime, status, msg)
		return
	}
	s.writeSession(w, startTime, http.StatusOK, room, player)
}

func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	code := utils.NormalizeRoomCode(mux.Vars(r)["code"])
	if !utils.ValidRoomCode(code) {
		writeResponse(w, startTime, http.StatusBadRequest, "Invalid room code")
		return
	}

	room, err := s.lobby.Room(r.Context(), code)
	if err != nil {
		status, msg := lobbyErrorStatus(err)
		writeResponse(w, startTime, status, msg)
		return
	}
	writeResponse(w, startTime, http.StatusOK, internal.CreateRoomSnapshot(room))
}

func (s *Server) writeSession(w http.ResponseWriter, startTime int64, status int, room *internal.Room, player *internal.Player) {
	token, err := s.creds.Generate(auth.Claims{
		PlayerID: player.ID,
		RoomCode: room.Code,
		Name:     player.Name,
	}, time.Now())
	if err != nil {
		logger.Errorf("[writeSession] room=%s: %v", room.Code, err)
		writeResponse(w, startTime, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeResponse(w, startTime, status, SessionData{
		PlayerID: player.ID,
		Token:    token,
		Room:     internal.CreateRoomSnapshot(room),
	})
}

// lobbyErrorStatus maps lobby and store errors to a status code and a
// message safe to show to clients.
func lobbyErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrRoomNotFound):
		return http.StatusNotFound, "Room not found"
	case errors.Is(err, store.ErrPlayerNotFound):
		return http.StatusNotFound, "Player not found"
	case errors.Is(err, game.ErrRoomFull):
		return http.StatusConflict, "Room is full"
	case errors.Is(err, game.ErrGameInProgress):
		return http.StatusConflict, "Game already in progress"
	case errors.Is(err, store.ErrPlayerExists):
		return http.StatusConflict, "Player already in room"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeResponse(w http.ResponseWriter, startTime int64, status int, data any) {
	endTime := time.Now().UnixMilli()
	resp := internal.Response{
		StatusCode:    status,
		RespStartTime: startTime,
		RespEndTime:   endTime,
		NetRespTime:   endTime - startTime,
		Data:          data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Error encoding response: %v", err)
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yonatanbiwix/simon-game-app/internal/auth"
	"github.com/yonatanbiwix/simon-game-app/internal/config"
	"github.com/yonatanbiwix/simon-game-app/internal/game"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg      config.Config
	lobby    *game.Lobby
	hub      *Hub
	creds    *auth.CredentialManager
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, st store.RoomStore, opts ...game.EngineOption) *Server {
	hub := NewHub()
	s := &Server{
		cfg:   cfg,
		hub:   hub,
		lobby: game.NewLobby(cfg, st, hub, opts...),
		creds: auth.NewCredentialManager(cfg.JWTSecret, cfg.CredentialTTL),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Lobby() *game.Lobby { return s.lobby }

// Close stops every timer owned by the lobby.
func (s *Server) Close() {
	s.lobby.Close()
}

// Run recovers rooms left by a previous process, then serves HTTP and sweeps
// idle rooms until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	recovered, err := s.lobby.Recover(ctx)
	if err != nil {
		s.Close()
		return fmt.Errorf("recover rooms: %w", err)
	}
	if recovered > 0 {
		logger.Infof("[Server] recovered %d interrupted rooms", recovered)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.RegisterRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go game.NewSweeper(s.lobby, s.cfg.Sweep.Interval).Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[Server] listening on %s (%s)", srv.Addr, s.cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.Close()
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Infof("[Server] shutting down")
	err = srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin)
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

package game

import (
	"sync"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal/logger"
)

// PresenceHandler receives the outcome of the disconnect debounce.
type PresenceHandler interface {
	// PlayerDisconnected runs when the buffer window elapsed without a
	// reconnect.
	PlayerDisconnected(code, playerID string)
	// PlayerExpired runs when the grace window elapsed as well.
	PlayerExpired(code, playerID string)
}

type PresenceStage int

const (
	StageBuffer PresenceStage = iota + 1
	StageGrace
)

type presenceKey struct {
	code     string
	playerID string
}

type pendingPresence struct {
	stage PresenceStage
	timer *time.Timer
	token uint64
}

// PresenceTracker debounces connection loss per (room, player) in two
// stages: buffer, then grace.
type PresenceTracker struct {
	buffer  time.Duration
	grace   time.Duration
	handler PresenceHandler

	mu      sync.Mutex
	pending map[presenceKey]*pendingPresence
	tokens  uint64
	closed  bool
}

func NewPresenceTracker(buffer, grace time.Duration, handler PresenceHandler) *PresenceTracker {
	return &PresenceTracker{
		buffer:  buffer,
		grace:   grace,
		handler: handler,
		pending: make(map[presenceKey]*pendingPresence),
	}
}

// Disconnect starts the buffer window. A player already pending keeps the
// window they are in.
func (p *PresenceTracker) Disconnect(code, playerID string) {
	key := presenceKey{code, playerID}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, pending := p.pending[key]; pending {
		return
	}
	p.schedule(key, StageBuffer, p.buffer)
	logger.Debugf("[PresenceTracker.Disconnect] room=%s: %s lost connection, buffering %v", code, playerID, p.buffer)
}

// Reconnect cancels any pending window. It reports whether the player had
// already been marked disconnected.
func (p *PresenceTracker) Reconnect(code, playerID string) bool {
	key := presenceKey{code, playerID}

	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.pending[key]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(p.pending, key)
	logger.Debugf("[PresenceTracker.Reconnect] room=%s: %s back during stage %d", code, playerID, cur.stage)
	return cur.stage == StageGrace
}

// Pending reports which window the player is in, if any.
func (p *PresenceTracker) Pending(code, playerID string) (PresenceStage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.pending[presenceKey{code, playerID}]
	if !ok {
		return 0, false
	}
	return cur.stage, true
}

// ForgetRoom drops every pending window of a room.
func (p *PresenceTracker) ForgetRoom(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cur := range p.pending {
		if key.code == code {
			cur.timer.Stop()
			delete(p.pending, key)
		}
	}
}

// Close stops every pending window.
func (p *PresenceTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for key, cur := range p.pending {
		cur.timer.Stop()
		delete(p.pending, key)
	}
}

// must be called with p.mu held
func (p *PresenceTracker) schedule(key presenceKey, stage PresenceStage, d time.Duration) {
	p.tokens++
	token := p.tokens
	p.pending[key] = &pendingPresence{
		stage: stage,
		token: token,
		timer: time.AfterFunc(d, func() { p.fire(key, token) }),
	}
}

func (p *PresenceTracker) fire(key presenceKey, token uint64) {
	p.mu.Lock()
	cur, ok := p.pending[key]
	if !ok || cur.token != token || p.closed {
		p.mu.Unlock()
		return
	}

	switch cur.stage {
	case StageBuffer:
		p.schedule(key, StageGrace, p.grace)
		p.mu.Unlock()
		logger.Infof("[PresenceTracker] room=%s: %s marked disconnected", key.code, key.playerID)
		p.handler.PlayerDisconnected(key.code, key.playerID)

	default:
		delete(p.pending, key)
		p.mu.Unlock()
		logger.Infof("[PresenceTracker] room=%s: %s grace expired, removing", key.code, key.playerID)
		p.handler.PlayerExpired(key.code, key.playerID)
	}
}

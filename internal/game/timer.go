package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
)

// =============================================================================
// TIMER MANAGEMENT
// =============================================================================

// phaseTimer is one armed timer. gen is the round it was armed for.
type phaseTimer struct {
	phase    internal.SimonPhase
	gen      int
	deadline time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// TimerManager holds at most one outstanding phase timer for a room. Arming
// a new timer cancels the previous one.
type TimerManager struct {
	code   string
	parent context.Context

	mu      sync.Mutex
	current *phaseTimer
}

func NewTimerManager(parent context.Context, code string) *TimerManager {
	return &TimerManager{code: code, parent: parent}
}

// Arm starts a timer for the given phase and generation. onTick, when set,
// runs every tick with the remaining time. onExpire runs once if the timer
// reaches its deadline while still armed; a canceled or replaced timer never
// calls it.
func (tm *TimerManager) Arm(phase internal.SimonPhase, gen int, d, tick time.Duration,
	onTick func(remaining time.Duration), onExpire func()) {

	ctx, cancel := context.WithTimeout(tm.parent, d)
	deadline, _ := ctx.Deadline()
	t := &phaseTimer{
		phase:    phase,
		gen:      gen,
		deadline: deadline,
		ctx:      ctx,
		cancel:   cancel,
	}

	tm.mu.Lock()
	prev := tm.current
	tm.current = t
	tm.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	logger.Debugf("[TimerManager.Arm] room=%s: %s timer armed for round %d (%v)", tm.code, phase, gen, d)

	go tm.run(t, tick, onTick, onExpire)
}

func (tm *TimerManager) run(t *phaseTimer, tick time.Duration, onTick func(time.Duration), onExpire func()) {
	var tickC <-chan time.Time
	if tick > 0 && onTick != nil {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-tickC:
			if !tm.isCurrent(t) {
				continue
			}
			onTick(max(time.Until(t.deadline), 0))

		case <-t.ctx.Done():
			tm.mu.Lock()
			active := tm.current == t
			if active {
				tm.current = nil
			}
			tm.mu.Unlock()

			if active && errors.Is(t.ctx.Err(), context.DeadlineExceeded) {
				logger.Debugf("[TimerManager.run] room=%s: %s timer expired for round %d", tm.code, t.phase, t.gen)
				onExpire()
			}
			return
		}
	}
}

// Cancel stops the outstanding timer. It reports whether one was armed;
// canceling with nothing armed is a no-op.
func (tm *TimerManager) Cancel() bool {
	tm.mu.Lock()
	t := tm.current
	tm.current = nil
	tm.mu.Unlock()

	if t == nil {
		return false
	}
	t.cancel()
	logger.Debugf("[TimerManager.Cancel] room=%s: %s timer for round %d cancelled", tm.code, t.phase, t.gen)
	return true
}

// Active reports the phase and generation of the outstanding timer.
func (tm *TimerManager) Active() (internal.SimonPhase, int, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.current == nil {
		return "", 0, false
	}
	return tm.current.phase, tm.current.gen, true
}

// Remaining is the time left on the outstanding timer, or zero.
func (tm *TimerManager) Remaining() time.Duration {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.current == nil {
		return 0
	}
	return max(time.Until(tm.current.deadline), 0)
}

func (tm *TimerManager) isCurrent(t *phaseTimer) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.current == t
}

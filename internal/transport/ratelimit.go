package transport

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RecipientLimitConfig configures the per-recipient token bucket guarding
// EnterMessageContext acquisition.
type RecipientLimitConfig struct {
	MessagesPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// DefaultRecipientLimitConfig allows bursts well above the expected tick
// rate while still capping a runaway sender.
var DefaultRecipientLimitConfig = RecipientLimitConfig{
	MessagesPerSecond: 60,
	Burst:             120,
	CleanupInterval:   5 * time.Minute,
}

type recipientLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RecipientLimiter rate-limits EnterMessageContext acquisition per
// recipient client ID, so one stalled or abusive peer cannot starve the
// tick loop's send path for everyone else.
type RecipientLimiter struct {
	mu       sync.Mutex
	entries  map[uint64]*recipientLimiterEntry
	config   RecipientLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRecipientLimiter starts a limiter with a background cleanup loop for
// recipients that haven't sent in a while.
func NewRecipientLimiter(cfg RecipientLimitConfig) *RecipientLimiter {
	rl := &RecipientLimiter{
		entries:  make(map[uint64]*recipientLimiterEntry),
		config:   cfg,
		stopChan: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop halts the cleanup goroutine.
func (rl *RecipientLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

func (rl *RecipientLimiter) limiterFor(recipient uint64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[recipient]
	if !ok {
		entry = &recipientLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.MessagesPerSecond), rl.config.Burst),
		}
		rl.entries[recipient] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Allow reports whether recipient may acquire a message context right now.
func (rl *RecipientLimiter) Allow(recipient uint64) bool {
	return rl.limiterFor(recipient).Allow()
}

func (rl *RecipientLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RecipientLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupInterval * 2)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, id)
		}
	}
}

package phase

import (
	"fmt"
	"sync"
	"time"
)

// maxPhaseAttempts is the failure count within the rolling window that
// trips the cooldown. Grounded on the teacher's PerBeadStageAttemptLimit,
// hardcoded here since SPEC_FULL.md exposes only the single cooldown knob.
const maxPhaseAttempts = 3

// attemptTracker is the per-phase failure/cooldown limiter from
// SPEC_FULL.md's supplemental feature 2, grounded on the teacher's
// checkStageAttemptLimit. It reuses the same configured duration for both
// the rolling failure window and the subsequent cooldown, since the engine
// exposes one PhaseAttemptCooldown knob rather than the teacher's separate
// StageAttemptWindow/StageCooldown pair.
type attemptTracker struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	cooldown map[string]time.Time
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{
		failures: make(map[string][]time.Time),
		cooldown: make(map[string]time.Time),
	}
}

// check reports whether key is currently blocked by an active cooldown or
// has just crossed the attempt limit within window. now is the caller's
// clock so tests can control it.
func (t *attemptTracker) check(key string, window, cooldown time.Duration, now time.Time) (bool, string) {
	if window <= 0 {
		return false, ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if until, ok := t.cooldown[key]; ok {
		if now.Before(until) {
			return true, fmt.Sprintf("phase cooldown active (%s remaining)", until.Sub(now).Round(time.Second))
		}
		delete(t.cooldown, key)
	}

	recent := recentSince(t.failures[key], now.Add(-window))
	t.failures[key] = recent
	if len(recent) < maxPhaseAttempts {
		return false, ""
	}

	reason := fmt.Sprintf("phase attempt limit reached (%d attempts in %s)", len(recent), window)
	if cooldown > 0 {
		t.cooldown[key] = now.Add(cooldown)
		reason = fmt.Sprintf("%s; cooldown %s", reason, cooldown)
	}
	return true, reason
}

// recordFailure adds a failure timestamp for key.
func (t *attemptTracker) recordFailure(key string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[key] = append(t.failures[key], now)
}

func recentSince(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}

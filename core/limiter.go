package core

import (
	"fmt"
	"sync"
)

// DefaultMaxRounds bounds tool rounds per turn when nothing else is configured.
const DefaultMaxRounds = 5

// RoundLimiter enforces the maximum number of tool rounds in a turn.
type RoundLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewRoundLimiter creates a limiter allowing max rounds. Values below one fall
// back to DefaultMaxRounds; a turn is never unbounded.
func NewRoundLimiter(max int) *RoundLimiter {
	if max < 1 {
		max = DefaultMaxRounds
	}
	return &RoundLimiter{max: max}
}

// Acquire reserves the next round and returns its index. It fails with
// ErrRoundLimitExceeded once max rounds were acquired.
func (rl *RoundLimiter) Acquire() (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.count >= rl.max {
		return rl.count, fmt.Errorf("%w: %d", ErrRoundLimitExceeded, rl.max)
	}
	rl.count++

	return rl.count - 1, nil
}

// Count returns the number of rounds acquired so far.
func (rl *RoundLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.count
}

// Remaining returns how many rounds are left.
func (rl *RoundLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.max - rl.count
}

// Max returns the configured limit.
func (rl *RoundLimiter) Max() int { return rl.max }

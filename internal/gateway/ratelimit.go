package gateway

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	// commandsPerReset is the gateway's total command allowance per reset
	// window, heartbeats included.
	commandsPerReset = 120

	// commandReset is the gateway's fixed allowance reset period.
	commandReset = 60 * time.Second

	// fallbackAllotment is used when the heartbeat reservation cannot be
	// computed sanely from the interval; it assumes ten heartbeats per
	// reset, far more than any interval the gateway hands out.
	fallbackAllotment = commandsPerReset - 10
)

// heartbeatsPerReset returns how many heartbeats must fit into one reset
// window for a given heartbeat interval, rounding up so a partial period
// still reserves a full slot.
func heartbeatsPerReset(interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	n := commandReset / interval
	if commandReset%interval != 0 {
		n++
	}
	return int(n)
}

// commandAllotment returns the number of user commands permitted per reset
// window after reserving heartbeat headroom.
func commandAllotment(interval time.Duration) int {
	reserved := heartbeatsPerReset(interval)
	if reserved <= 0 || reserved >= commandsPerReset {
		return fallbackAllotment
	}
	return commandsPerReset - reserved
}

// CommandRatelimiter gates outbound user commands so heartbeats always have
// budget left. Heartbeats bypass it entirely.
type CommandRatelimiter struct {
	limiter  *rate.Limiter
	allotted int
}

// NewCommandRatelimiter builds a bucket sized for the given heartbeat
// interval. The bucket starts full and refills its allotment over each
// 60 second reset window.
func NewCommandRatelimiter(interval time.Duration) *CommandRatelimiter {
	allotted := commandAllotment(interval)
	return &CommandRatelimiter{
		limiter:  rate.NewLimiter(rate.Every(commandReset/time.Duration(allotted)), allotted),
		allotted: allotted,
	}
}

// Allotted returns the commands permitted per reset window.
func (r *CommandRatelimiter) Allotted() int { return r.allotted }

// Acquire blocks until a command token is available or ctx is done.
func (r *CommandRatelimiter) Acquire(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// reserve takes a token unconditionally and reports how long the holder
// must wait before acting on it. A reservation taken before cancellation is
// consumed, never returned to the bucket.
func (r *CommandRatelimiter) reserve() time.Duration {
	return r.limiter.Reserve().Delay()
}

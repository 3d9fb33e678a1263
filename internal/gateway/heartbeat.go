package gateway

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// heartbeater drives the heartbeat cadence fixed by the handshake. It only
// signals that a beat is due; the shard's main loop performs the send so the
// latency tracker and transport stay single-owner.
//
// One heartbeater runs per transport connection, parented to the connection
// context. Cancelling the context aborts it; no timer outlives its session.
type heartbeater struct {
	session *Session
	logger  *zap.Logger

	due  chan struct{}
	sent chan struct{}
}

func newHeartbeater(session *Session, logger *zap.Logger) *heartbeater {
	return &heartbeater{
		session: session,
		logger:  logger,
		due:     make(chan struct{}, 1),
		sent:    make(chan struct{}, 1),
	}
}

// C signals when a heartbeat is due. The channel carries at most one
// pending signal so missed reads never pile up.
func (h *heartbeater) C() <-chan struct{} { return h.due }

// Sent tells the heartbeater the due beat went out, starting the next
// period. Cadence is measured from the send, not from the schedule, so a
// delayed send cannot cause double firing.
func (h *heartbeater) Sent() {
	select {
	case h.sent <- struct{}{}:
	default:
	}
}

// run emits due signals until ctx is cancelled. The first beat fires after
// a random fraction of the interval so a fleet of shards reconnecting
// together does not heartbeat in lockstep.
func (h *heartbeater) run(ctx context.Context) {
	interval := h.session.HeartbeatInterval()
	if interval <= 0 {
		h.logger.Error("heartbeater started without an interval")
		return
	}

	first := time.Duration(rand.Float64() * float64(interval))
	h.logger.Debug("heartbeat cadence started",
		zap.Duration("interval", interval),
		zap.Duration("initial_delay", first),
	)

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			select {
			case h.due <- struct{}{}:
			default:
			}
			select {
			case <-ctx.Done():
				return
			case <-h.sent:
			}
			timer.Reset(interval)
		}
	}
}

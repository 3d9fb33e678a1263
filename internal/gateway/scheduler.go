package gateway

import (
	"context"
	"time"
)

type actionKind int

const (
	// actionHeartbeat: a heartbeat is due and must be sent before anything
	// else this iteration.
	actionHeartbeat actionKind = iota
	// actionCommand: a queued outbound command holds a ratelimit permit.
	actionCommand
	// actionFrame: an inbound transport frame arrived.
	actionFrame
	// actionStreamEnd: the inbound frame stream closed.
	actionStreamEnd
)

type action struct {
	kind    actionKind
	command []byte
	frame   frame
}

// scheduler arbitrates the three event sources of one connection with a
// fixed priority: due heartbeat, then permitted outbound command, then
// inbound frame. It suspends until whichever source is ready first and
// returns exactly one action per call.
type scheduler struct {
	heartbeat <-chan struct{}
	commands  <-chan []byte
	frames    <-chan frame
	limiter   *CommandRatelimiter

	// A command popped while the bucket was empty waits here with its
	// reservation. The permit is already consumed; cancellation does not
	// return it to the bucket.
	pending      []byte
	pendingReady <-chan time.Time
}

func newScheduler(heartbeat <-chan struct{}, commands <-chan []byte, frames <-chan frame, limiter *CommandRatelimiter) *scheduler {
	return &scheduler{
		heartbeat: heartbeat,
		commands:  commands,
		frames:    frames,
		limiter:   limiter,
	}
}

// next returns the highest-priority ready action, blocking when none is.
// When all sources are idle it performs no busy polling; the blocking select
// wakes on the first source to become ready and priority is re-evaluated.
func (s *scheduler) next(ctx context.Context) (action, error) {
	for {
		// Priority pass: consult each source in order without blocking.
		select {
		case <-s.heartbeat:
			return action{kind: actionHeartbeat}, nil
		default:
		}

		if s.pending != nil {
			select {
			case <-s.pendingReady:
				return s.releasePending(), nil
			default:
			}
		} else {
			select {
			case cmd := <-s.commands:
				if a, ok := s.admit(cmd); ok {
					return a, nil
				}
			default:
			}
		}

		select {
		case fr, ok := <-s.frames:
			if !ok {
				return action{kind: actionStreamEnd}, nil
			}
			return action{kind: actionFrame, frame: fr}, nil
		default:
		}

		// Suspend until any source is ready. A race between sources at
		// wake-up is settled by the priority pass on the next iteration.
		commands := s.commands
		if s.pending != nil {
			commands = nil
		}

		select {
		case <-ctx.Done():
			return action{}, ctx.Err()
		case <-s.heartbeat:
			return action{kind: actionHeartbeat}, nil
		case <-s.pendingReady:
			return s.releasePending(), nil
		case cmd := <-commands:
			if a, ok := s.admit(cmd); ok {
				return a, nil
			}
		case fr, ok := <-s.frames:
			if !ok {
				return action{kind: actionStreamEnd}, nil
			}
			return action{kind: actionFrame, frame: fr}, nil
		}
	}
}

// admit reserves a ratelimit token for cmd. With a token in hand the command
// is returned immediately; with the bucket exhausted the command is parked
// until the reservation matures, letting inbound frames keep flowing.
func (s *scheduler) admit(cmd []byte) (action, bool) {
	delay := s.limiter.reserve()
	if delay <= 0 {
		return action{kind: actionCommand, command: cmd}, true
	}
	s.pending = cmd
	s.pendingReady = time.After(delay)
	return action{}, false
}

func (s *scheduler) releasePending() action {
	a := action{kind: actionCommand, command: s.pending}
	s.pending = nil
	s.pendingReady = nil
	return a
}

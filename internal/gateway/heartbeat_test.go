package gateway

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHeartbeaterCadence(t *testing.T) {
	session := NewSession()
	session.SetHeartbeatInterval(20 * time.Millisecond)

	hb := newHeartbeater(session, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		hb.run(ctx)
		close(done)
	}()

	// First beat arrives within the jittered window plus one interval.
	select {
	case <-hb.C():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no first heartbeat signal")
	}
	hb.Sent()

	// Subsequent beats continue on the fixed cadence.
	select {
	case <-hb.C():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no second heartbeat signal")
	}
	hb.Sent()

	// Cancelling the owning context stops the timer activity.
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeater did not stop on cancellation")
	}
}

func TestHeartbeaterWaitsForSend(t *testing.T) {
	session := NewSession()
	session.SetHeartbeatInterval(10 * time.Millisecond)

	hb := newHeartbeater(session, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hb.run(ctx)

	select {
	case <-hb.C():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no heartbeat signal")
	}

	// Without a Sent acknowledgement the next period never starts, so no
	// second signal may arrive: a delayed send cannot double-fire.
	select {
	case <-hb.C():
		t.Fatal("heartbeat fired again before the previous send completed")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestHeartbeaterRequiresInterval(t *testing.T) {
	hb := newHeartbeater(NewSession(), zap.NewNop())

	done := make(chan struct{})
	go func() {
		hb.run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeater without an interval should exit immediately")
	}
}

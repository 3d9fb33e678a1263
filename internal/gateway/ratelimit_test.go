package gateway

import (
	"context"
	"testing"
	"time"
)

func TestHeartbeatReservationTable(t *testing.T) {
	cases := []struct {
		interval   time.Duration
		heartbeats int
		allotted   int
	}{
		{60_000 * time.Millisecond, 1, 119},
		{42_500 * time.Millisecond, 2, 118},
		{30_000 * time.Millisecond, 2, 118},
		{29_999 * time.Millisecond, 3, 117},
	}

	for _, tc := range cases {
		if got := heartbeatsPerReset(tc.interval); got != tc.heartbeats {
			t.Errorf("heartbeatsPerReset(%s) = %d, want %d", tc.interval, got, tc.heartbeats)
		}
		if got := commandAllotment(tc.interval); got != tc.allotted {
			t.Errorf("commandAllotment(%s) = %d, want %d", tc.interval, got, tc.allotted)
		}
	}
}

func TestCommandAllotmentFallback(t *testing.T) {
	// A zero or absurdly small interval cannot produce a sane reservation
	// and falls back to the named constant instead of wrapping around.
	for _, interval := range []time.Duration{0, -time.Second, time.Millisecond} {
		if got := commandAllotment(interval); got != fallbackAllotment {
			t.Errorf("commandAllotment(%s) = %d, want fallback %d", interval, got, fallbackAllotment)
		}
	}
}

func TestRatelimiterStartsFull(t *testing.T) {
	r := NewCommandRatelimiter(41_250 * time.Millisecond)

	if r.Allotted() != 118 {
		t.Fatalf("allotted = %d, want 118", r.Allotted())
	}

	// The full allotment is available immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < r.Allotted(); i++ {
		if err := r.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	// The bucket is now empty; the next token is not immediate.
	if delay := r.reserve(); delay <= 0 {
		t.Error("expected a delay once the allotment is exhausted")
	}
}

func TestRatelimiterAcquireRespectsContext(t *testing.T) {
	r := NewCommandRatelimiter(60_000 * time.Millisecond)
	for i := 0; i < r.Allotted(); i++ {
		r.reserve()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := r.Acquire(ctx); err == nil {
		t.Error("expected acquire on an exhausted bucket to honor the deadline")
	}
}

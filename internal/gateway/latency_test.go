package gateway

import (
	"testing"
	"time"
)

func completePeriod(l *LatencyTracker) {
	l.RecordSent()
	l.RecordReceived()
}

func TestLatencyEmpty(t *testing.T) {
	l := NewLatencyTracker()

	if _, ok := l.Average(); ok {
		t.Error("average should be undefined with zero periods")
	}
	if got := len(l.Recent()); got != 0 {
		t.Errorf("recent length = %d, want 0", got)
	}
	if l.Outstanding() {
		t.Error("fresh tracker should have no outstanding period")
	}
}

func TestLatencyRecentBounded(t *testing.T) {
	l := NewLatencyTracker()

	for n := 1; n <= recentPeriods; n++ {
		completePeriod(l)
		if got := len(l.Recent()); got != n {
			t.Errorf("after %d periods recent length = %d, want %d", n, got, n)
		}
	}

	for i := 0; i < 3; i++ {
		completePeriod(l)
	}
	if got := len(l.Recent()); got != recentPeriods {
		t.Errorf("recent length = %d, want %d", got, recentPeriods)
	}
	if l.Periods() != recentPeriods+3 {
		t.Errorf("periods = %d, want %d", l.Periods(), recentPeriods+3)
	}
}

func TestLatencyRecentDropsOldestFirst(t *testing.T) {
	l := NewLatencyTracker()

	// Space the periods so each one is measurably longer than the last,
	// making eviction order observable.
	var want []time.Duration
	for i := 0; i < recentPeriods+2; i++ {
		l.RecordSent()
		time.Sleep(time.Duration(i+1) * time.Millisecond)
		l.RecordReceived()
		want = append(want, l.Recent()[len(l.Recent())-1])
	}

	recent := l.Recent()
	if len(recent) != recentPeriods {
		t.Fatalf("recent length = %d, want %d", len(recent), recentPeriods)
	}
	for i, d := range recent {
		if d != want[len(want)-recentPeriods+i] {
			t.Errorf("recent[%d] = %s, want %s (oldest dropped first)", i, d, want[len(want)-recentPeriods+i])
		}
	}
}

func TestLatencyAverage(t *testing.T) {
	l := NewLatencyTracker()
	completePeriod(l)
	completePeriod(l)

	avg, ok := l.Average()
	if !ok {
		t.Fatal("average should be defined after completed periods")
	}
	if avg < 0 {
		t.Errorf("average = %s, want non-negative", avg)
	}
}

func TestLatencyAbandonOutstanding(t *testing.T) {
	l := NewLatencyTracker()
	completePeriod(l)
	l.RecordSent()
	if !l.Outstanding() {
		t.Fatal("expected an open period")
	}

	l.abandonOutstanding()
	if l.Outstanding() {
		t.Error("abandoned period still reported outstanding")
	}
	if l.Periods() != 1 {
		t.Errorf("completed history should survive, periods = %d, want 1", l.Periods())
	}

	// A new period can open without tripping the double-send guard.
	l.RecordSent()
	l.RecordReceived()
	if l.Periods() != 2 {
		t.Errorf("periods = %d, want 2", l.Periods())
	}
}

func TestLatencyDoubleSentPanics(t *testing.T) {
	l := NewLatencyTracker()
	l.RecordSent()

	defer func() {
		if recover() == nil {
			t.Error("second RecordSent without an ack should panic")
		}
	}()
	l.RecordSent()
}

func TestLatencyReceivedWithoutSentPanics(t *testing.T) {
	l := NewLatencyTracker()

	defer func() {
		if recover() == nil {
			t.Error("RecordReceived with no outstanding send should panic")
		}
	}()
	l.RecordReceived()
}

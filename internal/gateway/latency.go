package gateway

import "time"

// recentPeriods bounds the ring of most recent heartbeat round trips.
const recentPeriods = 5

// LatencyTracker records heartbeat round-trip times. A period opens when a
// heartbeat is sent and closes when its acknowledgement arrives; the tracker
// keeps a running sum and a bounded ring of the newest periods.
//
// Misuse — closing a period that was never opened, or opening a second
// period over an open one — is a defect in the heartbeat controller, not a
// network condition, and panics rather than corrupting state.
type LatencyTracker struct {
	sum     time.Duration
	periods int
	recent  []time.Duration

	sentAt     time.Time
	receivedAt time.Time
}

// NewLatencyTracker returns an empty tracker. It lives for one shard and is
// reset only on a full reconnect, not on a resume.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{recent: make([]time.Duration, 0, recentPeriods)}
}

// RecordSent opens a round-trip period.
func (l *LatencyTracker) RecordSent() {
	if l.Outstanding() {
		panic("gateway: heartbeat sent while previous send is unacknowledged")
	}
	l.sentAt = time.Now()
	l.receivedAt = time.Time{}
}

// RecordReceived closes the open period with the acknowledgement time.
func (l *LatencyTracker) RecordReceived() {
	if !l.Outstanding() {
		panic("gateway: heartbeat acknowledged with none outstanding")
	}
	l.receivedAt = time.Now()
	period := l.receivedAt.Sub(l.sentAt)

	l.sum += period
	l.periods++
	if len(l.recent) == recentPeriods {
		copy(l.recent, l.recent[1:])
		l.recent = l.recent[:recentPeriods-1]
	}
	l.recent = append(l.recent, period)
}

// abandonOutstanding discards an open period whose acknowledgement can no
// longer arrive, such as when the transport died mid-beat. Completed
// history is kept.
func (l *LatencyTracker) abandonOutstanding() {
	l.sentAt = time.Time{}
	l.receivedAt = time.Time{}
}

// Outstanding reports whether a heartbeat has been sent but not yet
// acknowledged.
func (l *LatencyTracker) Outstanding() bool {
	return !l.sentAt.IsZero() && l.receivedAt.IsZero()
}

// Average returns the mean round trip over all completed periods. ok is
// false when no period has completed yet.
func (l *LatencyTracker) Average() (avg time.Duration, ok bool) {
	if l.periods == 0 {
		return 0, false
	}
	return l.sum / time.Duration(l.periods), true
}

// Recent returns up to the five newest completed periods, oldest first.
func (l *LatencyTracker) Recent() []time.Duration {
	out := make([]time.Duration, len(l.recent))
	copy(out, l.recent)
	return out
}

// Periods returns the count of completed round trips.
func (l *LatencyTracker) Periods() int { return l.periods }

// SentAt returns when the open or most recent period was opened.
func (l *LatencyTracker) SentAt() time.Time { return l.sentAt }

// reset discards all history. Used when a session is abandoned for a fresh
// Identify.
func (l *LatencyTracker) reset() {
	l.sum = 0
	l.periods = 0
	l.recent = l.recent[:0]
	l.sentAt = time.Time{}
	l.receivedAt = time.Time{}
}

package gateway

import (
	"testing"
	"time"
)

func TestCloseCodeClassification(t *testing.T) {
	fatal := []CloseCode{
		CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents,
	}
	for _, c := range fatal {
		if !c.Fatal() {
			t.Errorf("close code %d should be fatal", c)
		}
	}

	retryable := []CloseCode{
		CloseUnknownError,
		CloseUnknownOpCode,
		CloseDecodeError,
		CloseNotAuthenticated,
		CloseAlreadyAuthenticated,
		CloseInvalidSequence,
		CloseRateLimited,
		CloseSessionTimedOut,
	}
	for _, c := range retryable {
		if c.Fatal() {
			t.Errorf("close code %d should be retryable", c)
		}
	}

	// Unrecognized codes in and out of the 4000 range are retryable.
	for _, c := range []CloseCode{4006, 4015, 1006, 1011} {
		if c.Fatal() {
			t.Errorf("unrecognized close code %d should be retryable", c)
		}
	}
}

func TestCloseCodeResumable(t *testing.T) {
	notResumable := []CloseCode{
		CloseNotAuthenticated,
		CloseInvalidSequence,
		CloseSessionTimedOut,
		CloseAuthenticationFailed, // fatal implies not resumable
	}
	for _, c := range notResumable {
		if c.Resumable() {
			t.Errorf("close code %d should not be resumable", c)
		}
	}

	for _, c := range []CloseCode{CloseUnknownError, CloseRateLimited, 4006, 1006} {
		if !c.Resumable() {
			t.Errorf("close code %d should be resumable", c)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{7, 128 * time.Second},
		{8, 128 * time.Second},
		{20, 128 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempts); got != tc.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

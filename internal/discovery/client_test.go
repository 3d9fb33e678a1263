package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestConnectionInfo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify auth header
		auth := r.Header.Get("Authorization")
		if auth != "Bot test-token" {
			t.Errorf("expected Bot test-token, got %s", auth)
		}

		// Verify path
		if r.URL.Path != "/gateway/bot" {
			t.Errorf("expected path /gateway/bot, got %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ConnectionInfo{
			URL:    "wss://gateway.example.gg",
			Shards: 4,
			SessionStartLimit: SessionStartLimit{
				Total:          1000,
				Remaining:      997,
				MaxConcurrency: 1,
			},
		})
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-token", 10, 30*time.Second, 1*time.Second, 3, logger)

	info, err := client.ConnectionInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info.URL != "wss://gateway.example.gg" {
		t.Errorf("unexpected URL: %s", info.URL)
	}
	if info.Shards != 4 {
		t.Errorf("unexpected shard count: %d", info.Shards)
	}
	if info.SessionStartLimit.Remaining != 997 {
		t.Errorf("unexpected remaining sessions: %d", info.SessionStartLimit.Remaining)
	}
}

func TestConnectionInfo_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "bad-token", 10, 30*time.Second, 1*time.Second, 0, logger)

	_, err := client.ConnectionInfo(context.Background())
	if err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestConnectionInfo_RateLimited(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-token", 10, 30*time.Second, 10*time.Millisecond, 2, logger)

	_, err := client.ConnectionInfo(context.Background())
	if err == nil {
		t.Error("expected error for rate limiting")
	}

	// Should have attempted 3 times (initial + 2 retries)
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestConnectionInfo_ShardFloor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ConnectionInfo{URL: "wss://gateway.example.gg", Shards: 0})
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-token", 10, 30*time.Second, 1*time.Second, 0, logger)

	info, err := client.ConnectionInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Shards != 1 {
		t.Errorf("shard count should floor at 1, got %d", info.Shards)
	}
}

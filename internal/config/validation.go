package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway token is required (set GATEWAY_TOKEN env var)")
	}
	if c.Gateway.DiscoveryURL == "" {
		if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
			return fmt.Errorf("gateway url must be a ws:// or wss:// endpoint, got %q", c.Gateway.URL)
		}
		if c.Gateway.ShardCount < 1 {
			return fmt.Errorf("shard_count must be >= 1 without a discovery url")
		}
	}
	if c.Gateway.ShardCount < 0 {
		return fmt.Errorf("shard_count must not be negative")
	}
	if c.Gateway.ShardCount > 0 &&
		(c.Gateway.ShardIndex < 0 || c.Gateway.ShardIndex >= c.Gateway.ShardCount) {
		return fmt.Errorf("shard_index %d out of range for shard_count %d",
			c.Gateway.ShardIndex, c.Gateway.ShardCount)
	}
	if c.Gateway.LargeThreshold < 0 {
		return fmt.Errorf("large_threshold must not be negative")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status addr is required when the status server is enabled")
	}
	return nil
}

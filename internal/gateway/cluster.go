package gateway

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Cluster is a thin collaborator that constructs and runs N independent
// shards of the same gateway. Shards share nothing; the cluster only fans
// their lifetimes in and out.
type Cluster struct {
	shards []*Shard
	logger *zap.Logger
}

// NewCluster builds cfg.ShardCount shards indexed 0..count-1 from the same
// base configuration.
func NewCluster(cfg Config) *Cluster {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	count := cfg.ShardCount
	if count < 1 {
		count = 1
	}

	shards := make([]*Shard, count)
	for i := range shards {
		sc := cfg
		sc.ShardIndex = i
		sc.ShardCount = count
		shards[i] = NewShard(sc)
	}

	return &Cluster{shards: shards, logger: logger}
}

// NewSingleShard builds a cluster holding only shard cfg.ShardIndex of a
// cfg.ShardCount fleet, for deployments that spread a fleet across
// processes.
func NewSingleShard(cfg Config) *Cluster {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	if cfg.ShardIndex < 0 || cfg.ShardIndex >= cfg.ShardCount {
		cfg.ShardIndex = 0
	}

	return &Cluster{shards: []*Shard{NewShard(cfg)}, logger: logger}
}

// Shards returns the cluster's shards in index order.
func (c *Cluster) Shards() []*Shard { return c.shards }

// Run drives every shard until ctx is cancelled or one of them fails
// fatally, at which point the rest are closed and the first fatal error is
// returned.
func (c *Cluster) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, sh := range c.shards {
		wg.Add(1)
		go func(sh *Shard) {
			defer wg.Done()
			// Cancellation is how the caller stops the cluster; only real
			// failures are recorded.
			if err := sh.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("shard terminated", zap.Error(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
			}
		}(sh)
	}

	wg.Wait()
	return firstErr
}

// Statuses returns a snapshot of every shard, in index order.
func (c *Cluster) Statuses() []Status {
	out := make([]Status, len(c.shards))
	for i, sh := range c.shards {
		out[i] = sh.Status()
	}
	return out
}

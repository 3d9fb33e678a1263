package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shardkit/gateway/internal/discovery"
	"github.com/shardkit/gateway/internal/gateway"
	"github.com/shardkit/gateway/internal/notify"
	"github.com/shardkit/gateway/internal/relay"
	"github.com/shardkit/gateway/internal/status"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the configured shards until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logger.Sync()
			return runShards(cmd.Context())
		},
	}
}

func runShards(ctx context.Context) error {
	// Everything below must stop when the cluster does, not only on signal.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := cfg.Gateway.URL
	shardCount := cfg.Gateway.ShardCount

	if cfg.Gateway.DiscoveryURL != "" {
		client := discovery.NewClient(
			cfg.Gateway.DiscoveryURL, cfg.Gateway.Token,
			1, 10*time.Second, time.Second, 3,
			logger,
		)
		info, err := client.ConnectionInfo(ctx)
		if err != nil {
			return fmt.Errorf("gateway discovery: %w", err)
		}
		url = info.URL
		if shardCount == 0 {
			shardCount = info.Shards
		}
		logger.Info("gateway discovered",
			zap.String("url", url),
			zap.Int("recommended_shards", info.Shards),
			zap.Int("sessions_remaining", info.SessionStartLimit.Remaining),
		)
	}

	shardCfg := gateway.Config{
		Token:          cfg.Gateway.Token,
		Intents:        cfg.Gateway.Intents,
		Compress:       cfg.Gateway.Compress,
		ShardIndex:     cfg.Gateway.ShardIndex,
		ShardCount:     shardCount,
		URL:            url,
		LargeThreshold: cfg.Gateway.LargeThreshold,
		Properties: gateway.IdentifyProperties{
			OS:      "linux",
			Browser: "gatewaytail",
			Device:  "gatewaytail",
		},
		Logger: logger,
	}

	var cluster *gateway.Cluster
	if cfg.Gateway.SingleShard {
		cluster = gateway.NewSingleShard(shardCfg)
	} else {
		cluster = gateway.NewCluster(shardCfg)
	}

	logger.Info("starting shards",
		zap.Int("count", len(cluster.Shards())),
		zap.Int("fleet_size", shardCount),
		zap.Bool("compress", cfg.Gateway.Compress),
	)

	notifier := notify.New(notify.LoadConfig(), logger)

	hub := relay.NewHub("events", logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// Tail every shard's event stream.
	for _, sh := range cluster.Shards() {
		wg.Add(1)
		go func(sh *gateway.Shard) {
			defer wg.Done()
			tailEvents(ctx, sh, hub, notifier)
		}(sh)
	}

	if cfg.Status.Enabled {
		srv := status.NewServer(cluster, hub, cfg.Status.Addr, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.Run(ctx)
		}()
	}

	err := cluster.Run(ctx)
	cancel()

	if err != nil && gateway.IsFatal(err) {
		// Best effort; the process is going down either way.
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, st := range cluster.Statuses() {
			if st.Stage == gateway.StageDisconnected.String() {
				_ = notifier.SendFatal(notifyCtx, st, err)
			}
		}
		cancel()
	}

	wg.Wait()

	if err != nil {
		logger.Error("cluster stopped", zap.Error(err))
		return err
	}
	logger.Info("cluster stopped")
	return nil
}

// tailEvents drains one shard's decoded envelopes, logging dispatches and
// feeding them to the relay hub.
func tailEvents(ctx context.Context, sh *gateway.Shard, hub *relay.Hub, notifier notify.Notifier) {
	for ev := range sh.Events() {
		if ev.Op != gateway.OpDispatch {
			continue
		}
		logger.Info("event",
			zap.String("type", ev.Type),
			zap.Int64("sequence", ev.Sequence),
			zap.Int("bytes", len(ev.Data)),
		)
		hub.Publish(ev)

		switch ev.Type {
		case "READY":
			_ = notifier.SendConnected(ctx, sh.Status(), false)
		case "RESUMED":
			_ = notifier.SendConnected(ctx, sh.Status(), true)
		}
	}
}

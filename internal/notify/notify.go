package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shardkit/gateway/internal/gateway"
)

// Notifier is the interface for sending shard lifecycle notifications.
type Notifier interface {
	SendConnected(ctx context.Context, status gateway.Status, resumed bool) error
	SendFatal(ctx context.Context, status gateway.Status, cause error) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendConnected notifies that a shard reached a live session.
func (c *Client) SendConnected(ctx context.Context, status gateway.Status, resumed bool) error {
	if !c.config.Enabled {
		return nil
	}

	verb := "Connected"
	if resumed {
		verb = "Resumed"
	}
	title := fmt.Sprintf("Shard %d %s", status.Shard, verb)
	message := FormatConnectedMessage(status, resumed)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendFatal notifies that a shard terminated on an unrecoverable close code.
func (c *Client) SendFatal(ctx context.Context, status gateway.Status, cause error) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Shard %d Down", status.Shard)
	message := FormatFatalMessage(status, cause)
	tags := c.config.Tags + ",x"
	priority := "high" // Override to high priority for failures

	return c.send(ctx, title, message, tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendConnected is a no-op.
func (n *NoopNotifier) SendConnected(_ context.Context, _ gateway.Status, _ bool) error {
	return nil
}

// SendFatal is a no-op.
func (n *NoopNotifier) SendFatal(_ context.Context, _ gateway.Status, _ error) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}

// Package nats carries chat messages and turn events over NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/recall/internal/config"
)

// Client wraps a NATS connection with JetStream support.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewClient connects to NATS and ensures the recall streams exist.
func NewClient(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("recall"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	c := &Client{conn: nc, js: js, logger: logger}

	if err := c.ensureStreams(ctx, cfg.MessageMaxAge); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensuring streams: %w", err)
	}

	logger.Info("connected to NATS", "url", cfg.URL)
	return c, nil
}

func (c *Client) ensureStreams(ctx context.Context, messageMaxAge time.Duration) error {
	if messageMaxAge <= 0 {
		messageMaxAge = 24 * time.Hour
	}

	for _, cfg := range streamConfigs(messageMaxAge) {
		if _, err := c.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("creating stream %s: %w", cfg.Name, err)
		}
		c.logger.Debug("ensured NATS stream", "name", cfg.Name)
	}
	return nil
}

// streamConfigs lists the streams recall needs. Messages are a work queue
// consumed once; turn events are kept for a week for auditing.
func streamConfigs(messageMaxAge time.Duration) []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:      StreamMessages,
			Subjects:  []string{"recall.messages.>"},
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    messageMaxAge,
		},
		{
			Name:      StreamEvents,
			Subjects:  []string{"recall.events.>"},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
		},
	}
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c.conn.IsConnected()
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("draining NATS connection", "error", err)
	}
}

// Package natsbridge serves flow processes over NATS request/reply.
package natsbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds the NATS connection and subscription settings.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://localhost:4222".
	URL string `yaml:"url"`
	// Name identifies this client to the server.
	Name string `yaml:"name"`

	// Subject is the subject requests arrive on. Queue is the queue group
	// shared by every server replica.
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`

	// Workers bounds the number of requests processed at once.
	Workers int `yaml:"workers"`
	// RequestTimeout bounds a single process. Zero means no bound beyond
	// the server context.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxReconnects is the maximum number of reconnection attempts; -1
	// retries forever.
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`

	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "nodeflow",
		Subject:        "nodeflow.process",
		Queue:          "nodeflow",
		Workers:        8,
		RequestTimeout: 30 * time.Second,
		MaxReconnects:  10,
		ReconnectWait:  2 * time.Second,
		Timeout:        5 * time.Second,
	}
}

// Validate checks that cfg can be used to connect and serve.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats: url cannot be empty")
	}
	if c.Subject == "" {
		return fmt.Errorf("nats: subject cannot be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("nats: workers must be at least 1, got %d", c.Workers)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("nats: request timeout must not be negative")
	}
	return nil
}

// Connect establishes a connection to NATS. Connection state changes are
// logged to logger.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return res.conn, nil
	}
}

// Close drains conn, falling back to a hard close.
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}

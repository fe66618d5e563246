// Package events publishes pipeline progress to NATS so dashboards and other
// services can follow runs.
//
// Events are published to subjects of the form:
//
//	{prefix}.{run_id}.{stage}
//
// Publishing is best effort. NATS buffers outbound messages in the client, so
// a slow or disconnected server never blocks a run.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/config"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "buildbuddy.pipeline"

// Publisher sends progress events to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

var _ pipeline.EventPublisher = (*Publisher)(nil)

// NewPublisher wraps an existing connection. The caller keeps ownership of nc.
func NewPublisher(nc *nats.Conn, prefix string) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Connect dials cfg.NATSURL and returns a Publisher that owns the
// connection. It returns (nil, nil) when events are not configured.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Nop()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("buildbuddy"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	p, err := NewPublisher(nc, cfg.SubjectPrefix)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	logger.Info(context.Background(), "connected to NATS", zap.String("url", cfg.NATSURL), zap.String("prefix", p.prefix))
	return p, nil
}

// Subject returns the subject a progress event is published to.
func (p *Publisher) Subject(ev pipeline.Progress) string {
	return p.prefix + "." + token(ev.RunID) + "." + token(string(ev.Stage))
}

// Publish implements pipeline.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, ev pipeline.Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// Close drains and closes the connection when the Publisher owns it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

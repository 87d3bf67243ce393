package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
)

// natsPublisher is the subset of *nats.Conn used by the provider.
type natsPublisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSProvider publishes notifications as JSON to a NATS subject.
type NATSProvider struct {
	conn    natsPublisher
	subject string
}

// NewNATSProvider connects to the configured NATS server.
func NewNATSProvider(s *conf.NATSSettings, log logger.Logger) (*NATSProvider, error) {
	log = log.Module("nats")
	conn, err := nats.Connect(s.URL,
		nats.Name("safetyvision"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected to NATS", logger.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to connect to NATS at %s: %w", redactURLs(s.URL), err)).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("provider", "nats").
			Build()
	}
	log.Info("connected to NATS", logger.String("subject", s.Subject))
	return &NATSProvider{conn: conn, subject: s.Subject}, nil
}

func (p *NATSProvider) Name() string { return "nats" }

// Send publishes n and flushes so delivery failures surface within ctx.
func (p *NATSProvider) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return p.sendError(err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return p.sendError(err)
	}
	return nil
}

func (p *NATSProvider) sendError(err error) error {
	return errors.New(fmt.Errorf("failed to publish to %s: %w", p.subject, err)).
		Component("notification").
		Category(errors.CategoryNetwork).
		Context("provider", p.Name()).
		Build()
}

// Close drops the connection.
func (p *NATSProvider) Close() error {
	p.conn.Close()
	return nil
}

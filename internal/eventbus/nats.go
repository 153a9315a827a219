package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fleetmcp/coordinator/internal/common/logger"
)

// NATSConfig mirrors internal/common/config.NATSConfig, kept narrow so
// this package doesn't import the config package.
type NATSConfig struct {
	URL           string
	ClientID      string
	MaxReconnects int
}

// NATS implements Bus over a real NATS connection, the way the teacher's
// internal/events/bus.NATSEventBus does, trimmed to plain publish/
// subscribe since this domain has no need for queue groups or request/reply.
type NATS struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATS dials cfg.URL and wires reconnect/close logging.
func NewNATS(cfg NATSConfig, log *logger.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{conn: conn, log: log}, nil
}

// Publish marshals event as JSON and publishes it to subject.
func (b *NATS) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

type natsSub struct{ sub *nats.Subscription }

func (s *natsSub) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s *natsSub) IsValid() bool      { return s.sub.IsValid() }

// Subscribe registers handler for subject over the NATS connection.
func (b *NATS) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.log.Error("unmarshal event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := handler(context.Background(), &event); err != nil {
			b.log.Error("event handler error", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return &natsSub{sub: sub}, nil
}

// Close drains and closes the connection.
func (b *NATS) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.log.Warn("drain nats connection", zap.Error(err))
		b.conn.Close()
	}
}

// IsConnected reports the underlying connection state.
func (b *NATS) IsConnected() bool { return b.conn != nil && b.conn.IsConnected() }

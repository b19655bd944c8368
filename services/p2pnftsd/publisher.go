package p2pnftsd

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"p2pnfts/core/events"
)

// publishConn is the part of *nats.Conn the publisher uses.
type publishConn interface {
	Publish(subject string, data []byte) error
}

// Publisher forwards wire events to NATS under <prefix>.<event type>.
// Publish failures are logged; the market never waits on the broker.
type Publisher struct {
	conn   publishConn
	prefix string
	logger *slog.Logger
}

// ConnectPublisher dials url and returns a publisher with its connection.
func ConnectPublisher(url, prefix string, logger *slog.Logger) (*Publisher, *nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("p2pnftsd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return NewPublisher(nc, prefix, logger), nc, nil
}

func NewPublisher(conn publishConn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the NATS subject of an event type.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *Publisher) Emit(e events.Event) {
	wire, ok := e.(events.Wire)
	if p == nil || p.conn == nil || !ok {
		return
	}
	payload, err := json.Marshal(wire.Event())
	if err != nil {
		p.logger.Error("encode event", slog.String("type", e.EventType()), slog.Any("error", err))
		return
	}
	if err := p.conn.Publish(p.Subject(e.EventType()), payload); err != nil {
		p.logger.Warn("publish event", slog.String("type", e.EventType()), slog.Any("error", err))
	}
}

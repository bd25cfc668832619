// Package nats publishes audit events over NATS JetStream and exposes the
// key-value buckets backing the L2 cache and idempotency store.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chronahq/tenancy/internal/port/audit"
)

// Conn holds a NATS connection with JetStream enabled and the audit stream
// provisioned.
type Conn struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect establishes a connection to NATS and ensures the audit stream
// exists with subjects covering every published action.
func Connect(ctx context.Context, url, stream string) (*Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("dial nats: %w", err)
	}
	conn, err := wire(ctx, nc, stream)
	if err != nil {
		nc.Close()
		return nil, err
	}
	slog.Info("audit stream ready", "url", url, "stream", stream)
	return conn, nil
}

// wire brings up JetStream on an open connection. The caller owns closing
// nc on error.
func wire(ctx context.Context, nc *nats.Conn, stream string) (*Conn, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("enable jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{audit.SubjectPrefix + ">"},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return &Conn{nc: nc, js: js, stream: stream}, nil
}

// Publisher returns an audit sink that publishes each event as JSON to
// tenancy.audit.<action>.
func (c *Conn) Publisher() audit.Sink {
	return &publisher{js: c.js}
}

type publisher struct {
	js jetstream.JetStream
}

func (p *publisher) Record(ctx context.Context, e audit.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	subject := audit.Subject(e.Action)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeAudit registers a handler for every audit event on the stream.
// Malformed payloads are acked and logged so they are not redelivered.
func (c *Conn) SubscribeAudit(ctx context.Context, handler func(audit.Event)) (func(), error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		FilterSubject: audit.SubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit consumer: %w", err)
	}

	ack := func(msg jetstream.Msg) {
		if err := msg.Ack(); err != nil {
			slog.Error("ack audit event", "subject", msg.Subject(), "error", err)
		}
	}
	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var e audit.Event
		if err := json.Unmarshal(msg.Data(), &e); err != nil {
			slog.Warn("malformed audit event", "subject", msg.Subject(), "error", err)
			ack(msg)
			return
		}
		handler(e)
		ack(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("start audit consumer: %w", err)
	}

	return cons.Stop, nil
}

// KeyValue ensures a JetStream key-value bucket exists and returns it.
// Entries expire after ttl; zero means keys never expire.
func (c *Conn) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream key-value %s: %w", bucket, err)
	}
	return kv, nil
}

// Close shuts down the NATS connection.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}

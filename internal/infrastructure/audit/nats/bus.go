// Package nats carries Deep Search audit events over NATS.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

const (
	DefaultSubject    = "deepsearch.audit"
	DefaultQueueGroup = "audit-writers"
)

// publisher is the part of *nats.Conn the bus needs to publish.
type publisher interface {
	Publish(subject string, data []byte) error
}

type Bus struct {
	conn       *nats.Conn
	pub        publisher
	subject    string
	queueGroup string
	executor   *resilience.Executor
	logger     *slog.Logger
}

var (
	_ ports.AuditSink       = (*Bus)(nil)
	_ ports.AuditSubscriber = (*Bus)(nil)
)

type Options struct {
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Bus, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("patient-deep-search"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	bus := newBus(conn, subject, options)
	bus.conn = conn
	bus.logger = logger
	return bus, nil
}

func newBus(pub publisher, subject string, options Options) *Bus {
	if subject == "" {
		subject = DefaultSubject
	}
	queueGroup := options.QueueGroup
	if queueGroup == "" {
		queueGroup = DefaultQueueGroup
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pub:        pub,
		subject:    subject,
		queueGroup: queueGroup,
		executor:   options.ResilienceExecutor,
		logger:     logger,
	}
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Record publishes one audit event as JSON.
func (b *Bus) Record(ctx context.Context, event domain.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := b.pub.Publish(b.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeAuditEvents consumes events in the queue group until ctx ends, then drains
// the subscription.
func (b *Bus) SubscribeAuditEvents(ctx context.Context, handler func(context.Context, domain.AuditEvent) error) error {
	if b.conn == nil {
		return errors.New("nats subscribe: bus is not connected")
	}
	sub, err := b.conn.QueueSubscribe(b.subject, b.queueGroup, func(msg *nats.Msg) {
		b.dispatch(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, data []byte, handler func(context.Context, domain.AuditEvent) error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	var event domain.AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		b.logger.Error("audit_event_decode_failed", "error", err, "bytes", len(data))
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, event); err != nil {
		b.logger.Error("audit_event_handler_failed", "event_id", event.ID, "operation", event.Operation, "error", err)
	}
}

// Package consumer implements the bus adapter: a NATS JetStream pull
// consumer that hands each raw analytics event to the message handler and
// translates its outcome into Ack/Nak/Term.
package consumer

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/rotor/internal/handler"
	"github.com/arc-self/rotor/internal/natsclient"
)

const (
	durableName  = "rotor-event-consumer"
	fetchBatch   = 32
	fetchTimeout = 5 * time.Second
)

// Dispatcher is the subset of handler.Handler the consumer needs.
type Dispatcher interface {
	HandleMessage(ctx context.Context, raw []byte, retries int) handler.Outcome
}

// EventConsumer pulls analytics events off the bus and runs them through a
// Dispatcher.
type EventConsumer struct {
	nc     *natsclient.Client
	h      Dispatcher
	logger *zap.Logger
}

// NewEventConsumer builds an EventConsumer.
func NewEventConsumer(nc *natsclient.Client, h Dispatcher, logger *zap.Logger) *EventConsumer {
	return &EventConsumer{nc: nc, h: h, logger: logger}
}

// Start subscribes to the analytics events subject as a durable pull
// consumer and processes messages until ctx is cancelled.
func (c *EventConsumer) Start(ctx context.Context) error {
	sub, err := c.nc.JS.PullSubscribe(
		natsclient.SubjectAnalyticsEvents,
		durableName,
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		return err
	}

	c.logger.Info("event consumer started",
		zap.String("subject", natsclient.SubjectAnalyticsEvents),
		zap.String("durable", durableName),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("event consumer stopping")
				return
			default:
			}

			msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchTimeout))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				c.logger.Error("fetch error", zap.Error(err))
				continue
			}

			for _, msg := range msgs {
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

// processMessage runs one event through the handler and acks/naks/terms
// according to its outcome.
func (c *EventConsumer) processMessage(ctx context.Context, msg *nats.Msg) {
	retries := 0
	if meta, err := msg.Metadata(); err == nil {
		retries = int(meta.NumDelivered) - 1
	}

	outcome := c.h.HandleMessage(ctx, msg.Data, retries)

	switch {
	case outcome.Dropped:
		c.logger.Warn("message dropped", zap.String("reason", outcome.Reason), zap.String("subject", msg.Subject))
		msg.Term()
	case outcome.Retry:
		c.logger.Warn("message requeued", zap.String("reason", outcome.Reason), zap.Int("retries", retries))
		msg.Nak()
	default:
		msg.Ack()
	}
}

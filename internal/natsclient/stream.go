package natsclient

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamAnalyticsEvents is the durable stream that captures all ingested
	// analytics events awaiting chain execution.
	StreamAnalyticsEvents = "ANALYTICS_EVENTS"
	// SubjectAnalyticsEvents captures events for every connection.
	SubjectAnalyticsEvents = "ANALYTICS_EVENTS.>"
)

var streamSubjects = []string{SubjectAnalyticsEvents}

// ProvisionStreams idempotently ensures the ANALYTICS_EVENTS JetStream
// stream exists with the correct subject filter. It creates the stream on
// first run and is a no-op if the stream already exists.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamAnalyticsEvents)
	if err == nil {
		c.Log.Info("NATS stream already exists", zap.String("stream", StreamAnalyticsEvents))
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamAnalyticsEvents,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned",
		zap.String("stream", StreamAnalyticsEvents),
		zap.Strings("subjects", streamSubjects),
	)
	return nil
}

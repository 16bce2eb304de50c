// Package handler implements the message handler: per-message
// orchestration from raw bus payload to delivery outcome.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/rotor/internal/chain"
	"github.com/arc-self/rotor/internal/executor"
	"github.com/arc-self/rotor/internal/kvstore"
	"github.com/arc-self/rotor/internal/model"
)

// ConnectionResolver is the subset of the config store the handler needs.
type ConnectionResolver interface {
	GetEnrichedConnection(ctx context.Context, id string) (*model.Connection, error)
}

// MetricsSink is the subset of telemetry.Metrics the handler needs.
type MetricsSink interface {
	RecordExecution(workspaceID string, log model.ExecutionLog, outcome string)
}

// ExecLogSink optionally persists execution logs for operator visibility.
// A nil sink disables persistence without changing the handler's core
// contract.
type ExecLogSink interface {
	InsertExecLog(ctx context.Context, workspaceID, messageID string, log model.ExecutionLog) error
}

// Outcome is the handler's instruction to the bus adapter.
type Outcome struct {
	Retry   bool
	Dropped bool
	Reason  string
}

// Deadline is the default per-message processing deadline.
const Deadline = 30 * time.Second

// Handler orchestrates one message end to end.
type Handler struct {
	connections ConnectionResolver
	chainDeps   chain.Deps
	kvBackend   kvstore.Backend
	system      model.SystemContext
	metrics     MetricsSink
	execLog     ExecLogSink
	log         *zap.Logger
	deadline    time.Duration
}

// New builds a Handler.
func New(
	connections ConnectionResolver,
	chainDeps chain.Deps,
	kvBackend kvstore.Backend,
	system model.SystemContext,
	metrics MetricsSink,
	execLog ExecLogSink,
	log *zap.Logger,
) *Handler {
	return &Handler{
		connections: connections,
		chainDeps:   chainDeps,
		kvBackend:   kvBackend,
		system:      system,
		metrics:     metrics,
		execLog:     execLog,
		log:         log,
		deadline:    Deadline,
	}
}

// HandleMessage runs the full processing sequence for one raw bus message.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte, retries int) Outcome {
	ctx, cancel := context.WithTimeout(ctx, h.deadline)
	defer cancel()

	// 1. Decode — malformed JSON is a drop-with-warning, never retried
	// (poison-message policy).
	var msg model.IngestMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Warn("malformed bus payload, dropping", zap.Error(err))
		return Outcome{Dropped: true, Reason: "malformed_message"}
	}

	var event model.Event
	if err := json.Unmarshal(msg.HTTPPayload, &event); err != nil {
		h.log.Warn("malformed event payload, dropping", zap.String("messageId", msg.MessageID), zap.Error(err))
		return Outcome{Dropped: true, Reason: "malformed_message"}
	}
	event.MessageID = msg.MessageID
	if event.Type == "" {
		event.Type = msg.Type
	}

	// 2. Resolve the connection.
	conn, err := h.connections.GetEnrichedConnection(ctx, msg.ConnectionID)
	if err != nil {
		if classified, ok := model.AsErr(err); ok && classified.Kind == model.KindUnknownConnection {
			h.log.Warn("unknown connection, dropping", zap.String("connectionId", msg.ConnectionID))
			return Outcome{Dropped: true, Reason: "unknown_connection"}
		}
		// Any other config-store failure (e.g. backend unavailable) is
		// retryable — it is not this message's fault.
		h.log.Error("config store error resolving connection", zap.Error(err))
		return Outcome{Retry: true, Reason: "config_store_error"}
	}

	// 3. Assemble EventContext.
	evtCtx := model.EventContext{
		Headers: msg.HTTPHeaders,
		Geo:     msg.Geo,
		Retries: retries,
		Source: model.SourceContext{
			ID:     conn.StreamID,
			Domain: originDomain(msg.Origin),
		},
		Destination: model.DestinationContext{
			ID:              conn.DestinationID,
			Type:            conn.Type,
			UpdatedAt:       conn.UpdatedAt,
			CredentialsHash: conn.CredentialsHash,
		},
		Connection: model.ConnectionContext{
			ID:      conn.ID,
			Mode:    conn.Mode,
			Options: conn.Options,
		},
	}

	// 4. Per-connection KV store binding.
	store := kvstore.New(h.kvBackend, conn.ID)

	// 5. Build the chain.
	steps, err := chain.Build(ctx, *conn, h.chainDeps, nil)
	if err != nil {
		h.log.Error("chain build failed", zap.String("connectionId", conn.ID), zap.Error(err))
		h.recordAndMaybePersist(ctx, conn.WorkspaceID, msg.MessageID, model.ExecutionLog{{
			StepID:  "chain-build",
			Outcome: model.OutcomeError,
			Err:     err,
		}}, "fatal")
		return Outcome{Dropped: true, Reason: "chain_build_error"}
	}

	// 6. Execute.
	full := model.FullContext{
		Connection: *conn,
		Store:      store,
		EventCtx:   evtCtx,
		System:     h.system,
	}
	_, log := executor.Run(ctx, steps, &event, full)

	// 7/8. Metrics + checkError.
	retryable, fatal := executor.CheckError(log)
	outcome := classifyOutcome(retryable, fatal)
	h.recordAndMaybePersist(ctx, conn.WorkspaceID, msg.MessageID, log, outcome)

	if ctx.Err() != nil {
		return Outcome{Retry: true, Reason: "timeout"}
	}
	if retryable {
		return Outcome{Retry: true, Reason: "retryable_error"}
	}
	// Fatal-only outcomes are acked to prevent poison-message loops.
	return Outcome{Reason: outcome}
}

func (h *Handler) recordAndMaybePersist(ctx context.Context, workspaceID, messageID string, log model.ExecutionLog, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordExecution(workspaceID, log, outcome)
	}
	if h.execLog == nil {
		return
	}
	if err := h.execLog.InsertExecLog(ctx, workspaceID, messageID, log); err != nil {
		h.log.Error("failed to persist execution log", zap.Error(err))
	}
}

func classifyOutcome(retryable, fatal bool) string {
	switch {
	case retryable:
		return "retryable"
	case fatal:
		return "fatal"
	default:
		return "ok"
	}
}

func originDomain(o *model.Origin) string {
	if o == nil {
		return ""
	}
	return o.Domain
}

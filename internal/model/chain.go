package model

import "context"

// StepOutcome classifies a single step invocation for the execution log.
type StepOutcome string

const (
	OutcomeOK    StepOutcome = "ok"
	OutcomeDrop  StepOutcome = "drop"
	OutcomeError StepOutcome = "error"
)

// Result is the outcome of a single step.exec(event, context) call: either
// a replacement event, a fan-out of events, a drop, produced by Step.Exec.
// Exactly one of Events/Dropped is meaningful at a time; errors are
// returned separately by the ExecFunc.
type Result struct {
	Events  []*Event
	Dropped bool
}

// ExecFunc is the pure function a Step wraps: (event, fullContext) -> events | drop | error.
type ExecFunc func(ctx context.Context, event *Event, full FullContext) (Result, error)

// FullContext is what the chain executor threads into every step invocation: the resolved
// connection, the per-connection KV store binding, and the
// event-scoped context assembled by the message handler. Builtin steps additionally receive
// SystemContext; UDF steps receive EventContext.Reduced() and a nil SystemContext.
type FullContext struct {
	Connection Connection
	Store      KVBinding
	EventCtx   EventContext
	System     SystemContext
}

// KVBinding is the per-connection key-value façade carried in FullContext.Store
// for every step, including the udf.PIPELINE step. It is a narrow interface
// here (not the concrete kvstore type) so chain/executor do not import
// kvstore. The UDF Wrapper's Invoke receives only the event and the
// EventContext, so code running inside a UDF sandbox has no access to it.
type KVBinding interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// SystemContext is the privileged handle builtins receive and UDFs never
// see — an opaque gateway to platform-internal services such as the
// anonymous-event store.
type SystemContext interface {
	// AnonymousEvents returns the anonymous-event store handle, or nil if
	// this deployment does not wire one.
	AnonymousEvents() AnonymousEventStore
}

// AnonymousEventStore is a platform-internal service exposed through
// SystemContext for resolving a prior anonymous id to a known user.
type AnonymousEventStore interface {
	Lookup(ctx context.Context, anonymousID string) (userID string, ok bool, err error)
}

// StepKind tags the three step shapes so the chain builder and executor can
// match exhaustively instead of re-parsing function-id prefixes at runtime.
type StepKind int

const (
	StepBuiltinTransformation StepKind = iota
	StepUDFPipeline
	StepBuiltinDestination
)

// Step is one executable element of a function chain.
type Step struct {
	ID     string
	Kind   StepKind
	Config map[string]any
	Exec   ExecFunc
}

// ExecLogEntry is one record in an ExecutionLog.
type ExecLogEntry struct {
	StepID     string
	Outcome    StepOutcome
	DurationMs int64
	Err        error
	// FanOut is the total number of events this step produced across the
	// current event set (0 on drop, N on fan-out).
	FanOut int
}

// ExecutionLog is the ordered sequence of per-step records the chain executor produces.
type ExecutionLog []ExecLogEntry

// HasRetryable reports whether any entry in the log is a retryable error.
func (l ExecutionLog) HasRetryable() bool {
	for _, e := range l {
		if e.Err == nil {
			continue
		}
		if classified, ok := AsErr(e.Err); ok && classified.Kind.Retryable() {
			return true
		}
	}
	return false
}

// HasFatal reports whether any entry in the log is a fatal (non-retryable)
// error.
func (l ExecutionLog) HasFatal() bool {
	for _, e := range l {
		if e.Outcome == OutcomeError {
			if classified, ok := AsErr(e.Err); !ok || !classified.Kind.Retryable() {
				return true
			}
		}
	}
	return false
}

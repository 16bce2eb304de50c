package model

import "errors"

// ErrKind classifies a processing error for retry/ack decisions.
type ErrKind int

const (
	// KindMalformedMessage is a bus payload that failed JSON decode.
	KindMalformedMessage ErrKind = iota
	// KindUnknownConnection is a connection id with no config store record.
	KindUnknownConnection
	// KindUnknownFunction is a udf.* reference with no function definition.
	KindUnknownFunction
	// KindWorkspaceMismatch is a UDF definition owned by a different workspace.
	KindWorkspaceMismatch
	// KindUnknownFunctionType is a function id outside {builtin.*, udf.*}.
	KindUnknownFunctionType
	// KindConfigError is a missing destination builtin for connection.type.
	KindConfigError
	// KindSandboxDisposed is a UDF invoke that hit a torn-down isolate.
	KindSandboxDisposed
	// KindUDFRuntimeError is any other UDF throw.
	KindUDFRuntimeError
	// KindTransientDownstream is a retryable delivery failure (5xx, dial error).
	KindTransientDownstream
	// KindTimeout is a message deadline exceeded.
	KindTimeout
	// KindDestinationError is a non-retryable destination delivery failure
	// (e.g. HTTP 4xx from a webhook).
	KindDestinationError
)

func (k ErrKind) String() string {
	switch k {
	case KindMalformedMessage:
		return "malformed_message"
	case KindUnknownConnection:
		return "unknown_connection"
	case KindUnknownFunction:
		return "unknown_function"
	case KindWorkspaceMismatch:
		return "workspace_mismatch"
	case KindUnknownFunctionType:
		return "unknown_function_type"
	case KindConfigError:
		return "config_error"
	case KindSandboxDisposed:
		return "sandbox_disposed"
	case KindUDFRuntimeError:
		return "udf_runtime_error"
	case KindTransientDownstream:
		return "transient_downstream"
	case KindTimeout:
		return "timeout"
	case KindDestinationError:
		return "destination_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether the bus should redeliver the message on this
// error kind. SandboxDisposed is not retryable at the bus level — the chain
// builder's UDF exec closure recovers it inline with an in-process
// rebuild-and-retry.
func (k ErrKind) Retryable() bool {
	switch k {
	case KindTransientDownstream, KindTimeout:
		return true
	default:
		return false
	}
}

// Err is a classified processing error carrying its ErrKind alongside the
// underlying cause.
type Err struct {
	Kind ErrKind
	Step string // step id that raised the error, empty if not step-scoped
	Err  error
}

func (e *Err) Error() string {
	if e.Step != "" {
		return e.Kind.String() + " (" + e.Step + "): " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Err) Unwrap() error { return e.Err }

// NewErr builds a classified Err.
func NewErr(kind ErrKind, step string, cause error) *Err {
	return &Err{Kind: kind, Step: step, Err: cause}
}

// AsErr extracts the classified *Err from err, if any.
func AsErr(err error) (*Err, bool) {
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ErrDisposed is the sentinel a Wrapper's Invoke returns when its sandbox
// has been torn down. UDF compilers must return an error satisfying
// errors.Is(err, ErrDisposed).
var ErrDisposed = errors.New("isolate is disposed")

// Package udf implements the UDF wrapper registry and the in-process UDF
// compiler adapter. The compiler is an external collaborator behind the
// Compiler interface; this package provides the concrete goja-backed
// implementation rotor boots with.
package udf

import (
	"context"

	"github.com/arc-self/rotor/internal/model"
)

// Wrapper is a handle to a compiled UDF sandbox.
type Wrapper interface {
	// Invoke runs the user function against event and context. It
	// returns model.ErrDisposed (wrapped) if the sandbox was torn down.
	Invoke(ctx context.Context, event *model.Event, evtCtx model.EventContext) (model.Result, error)
	// Close releases the sandbox. Close must be idempotent.
	Close() error
}

// Compiler is the external UDF compiler factory.
type Compiler interface {
	Compile(id, name, code string) (Wrapper, error)
}

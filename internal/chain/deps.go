package chain

import (
	"context"

	"github.com/arc-self/rotor/internal/bulker"
	"github.com/arc-self/rotor/internal/model"
	"github.com/arc-self/rotor/internal/udf"
)

// FunctionSource resolves UDF function definitions (the subset of the
// config store the builder needs).
type FunctionSource interface {
	GetFunctionDefinition(ctx context.Context, id string) (*model.FunctionDefinition, error)
}

// UDFAcquirer is the subset of the UDF registry the builder needs: acquire
// the cached/compiled wrapper, and force a rebuild on disposed-sandbox
// recovery.
type UDFAcquirer interface {
	Acquire(ctx context.Context, functionID, name, code string) (*udf.CompiledUDF, error)
	Rebuild(ctx context.Context, functionID, name, code string) (*udf.CompiledUDF, error)
}

// Webhook is the subset of dispatcher.WebhookDispatcher the builder needs.
type Webhook interface {
	Deliver(ctx context.Context, url, secret string, payload any) error
}

// Email is the subset of dispatcher.EmailDispatcher the builder needs.
type Email interface {
	Deliver(ctx context.Context, conn model.Connection, event *model.Event) error
}

// BulkerClient is the subset of bulker.Client the builder needs.
type BulkerClient interface {
	Post(ctx context.Context, req bulker.Request) error
}

// Deps bundles everything the chain builder needs beyond the connection
// and message being processed.
type Deps struct {
	Functions FunctionSource
	UDFs      UDFAcquirer
	Webhook   Webhook
	Email     Email
	Bulker    BulkerClient
}

// Filter is the optional functions filter predicate used for dry-run /
// single-function debugging. A nil Filter matches everything.
type Filter func(functionID string) bool

func (f Filter) allows(id string) bool {
	if f == nil {
		return true
	}
	return f(id)
}

// Package chain implements the function chain builder: from a connection's
// configuration it produces an ordered list of executable steps.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/arc-self/rotor/internal/bulker"
	"github.com/arc-self/rotor/internal/dispatcher"
	"github.com/arc-self/rotor/internal/model"
)

// TransformationBuiltins maps `builtin.transformation.*` ids to factories
// producing an ExecFunc from the function reference's options.
var TransformationBuiltins = map[string]func(opts map[string]any) model.ExecFunc{
	"builtin.transformation.addTimestamp":  addTimestampTransformation,
	"builtin.transformation.dropNoUserID":  dropNoUserIDTransformation,
	"builtin.transformation.stripContext":  stripContextTransformation,
}

// addTimestampTransformation fills Event.Timestamp with the current time
// (RFC3339) if it is not already set.
func addTimestampTransformation(opts map[string]any) model.ExecFunc {
	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		if event.Timestamp != "" {
			return model.Result{Events: []*model.Event{event}}, nil
		}
		clone := event.Clone()
		clone.Timestamp = time.Now().UTC().Format(time.RFC3339)
		return model.Result{Events: []*model.Event{clone}}, nil
	}
}

// dropNoUserIDTransformation drops events lacking both a user and
// anonymous id.
func dropNoUserIDTransformation(opts map[string]any) model.ExecFunc {
	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		if event.UserID == "" && event.AnonymousID == "" {
			return model.Result{Dropped: true}, nil
		}
		return model.Result{Events: []*model.Event{event}}, nil
	}
}

// stripContextTransformation removes the context map entirely, used by
// connections that don't want HTTP/geo enrichment reaching the destination.
func stripContextTransformation(opts map[string]any) model.ExecFunc {
	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		if event.Context == nil {
			return model.Result{Events: []*model.Event{event}}, nil
		}
		clone := event.Clone()
		clone.Context = nil
		return model.Result{Events: []*model.Event{clone}}, nil
	}
}

// DestinationBuiltins maps `builtin.destination.<type>` ids to factories.
// `bulker` is resolved separately (its endpoint/token come from
// deployment config, not connection.type) — see buildTerminalStep.
var DestinationBuiltins = map[string]func(deps Deps, conn model.Connection, opts map[string]any) model.ExecFunc{
	"builtin.destination.webhook": webhookDestination,
	"builtin.destination.email":   emailDestination,
}

func webhookDestination(deps Deps, conn model.Connection, opts map[string]any) model.ExecFunc {
	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		url, _ := conn.Credentials["url"].(string)
		secret, _ := conn.Credentials["secret"].(string)
		if err := deps.Webhook.Deliver(ctx, url, secret, event); err != nil {
			return model.Result{}, classifyDeliveryErr("builtin.destination.webhook", err)
		}
		return model.Result{Events: []*model.Event{event}}, nil
	}
}

func emailDestination(deps Deps, conn model.Connection, opts map[string]any) model.ExecFunc {
	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		if err := deps.Email.Deliver(ctx, conn, event); err != nil {
			return model.Result{}, classifyDeliveryErr("builtin.destination.email", err)
		}
		return model.Result{Events: []*model.Event{event}}, nil
	}
}

func bulkerDestination(deps Deps, conn model.Connection, layout model.DataLayout) model.ExecFunc {
	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		err := deps.Bulker.Post(ctx, bulker.Request{
			DestinationID: conn.ID,
			DataLayout:    string(layout),
			Event:         event,
		})
		if err != nil {
			return model.Result{}, classifyDeliveryErr("builtin.destination.bulker", err)
		}
		return model.Result{Events: []*model.Event{event}}, nil
	}
}

func classifyDeliveryErr(step string, err error) error {
	if bulker.IsTransient(err) || dispatcher.IsTransient(err) {
		return model.NewErr(model.KindTransientDownstream, step, err)
	}
	return model.NewErr(model.KindDestinationError, step, fmt.Errorf("delivery failed: %w", err))
}

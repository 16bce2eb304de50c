package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/rotor/internal/model"
)

func identityStep(id string) model.Step {
	return model.Step{ID: id, Exec: func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		return model.Result{Events: []*model.Event{event}}, nil
	}}
}

func appendPropStep(id, key, value string) model.Step {
	return model.Step{ID: id, Exec: func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		clone := event.Clone()
		if clone.Properties == nil {
			clone.Properties = map[string]any{}
		}
		clone.Properties[key] = value
		return model.Result{Events: []*model.Event{clone}}, nil
	}}
}

func TestRun_OrderPreservation(t *testing.T) {
	steps := []model.Step{
		appendPropStep("s1", "a", "1"),
		appendPropStep("s2", "b", "2"),
		appendPropStep("s3", "c", "3"),
	}
	result, log := Run(context.Background(), steps, &model.Event{MessageID: "m1"}, model.FullContext{})

	require.Len(t, result.Events, 1)
	assert.Equal(t, map[string]any{"a": "1", "b": "2", "c": "3"}, result.Events[0].Properties)
	for _, e := range log {
		assert.Equal(t, model.OutcomeOK, e.Outcome)
	}
}

func TestRun_FanOutPreservesOrder(t *testing.T) {
	fanOut := model.Step{ID: "fanout", Exec: func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		e1 := &model.Event{MessageID: "e1"}
		e2 := &model.Event{MessageID: "e2"}
		e3 := &model.Event{MessageID: "e3"}
		return model.Result{Events: []*model.Event{e1, e2, e3}}, nil
	}}
	steps := []model.Step{fanOut, identityStep("terminal")}

	result, _ := Run(context.Background(), steps, &model.Event{}, model.FullContext{})

	require.Len(t, result.Events, 3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, []string{
		result.Events[0].MessageID, result.Events[1].MessageID, result.Events[2].MessageID,
	})
}

func TestRun_DropStopsSubsequentSteps(t *testing.T) {
	called := false
	dropStep := model.Step{ID: "drop", Exec: func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		return model.Result{Dropped: true}, nil
	}}
	afterDrop := model.Step{ID: "after", Exec: func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		called = true
		return model.Result{Events: []*model.Event{event}}, nil
	}}

	result, log := Run(context.Background(), []model.Step{dropStep, afterDrop}, &model.Event{}, model.FullContext{})

	assert.False(t, called, "no step after the set empties should run")
	assert.Empty(t, result.Events)
	require.Len(t, log, 1)
	assert.Equal(t, model.OutcomeDrop, log[0].Outcome)
}

func TestRun_PerEventErrorDoesNotCancelSiblings(t *testing.T) {
	maybeFail := model.Step{ID: "maybe-fail", Exec: func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		if event.MessageID == "bad" {
			return model.Result{}, errors.New("boom")
		}
		return model.Result{Events: []*model.Event{event}}, nil
	}}

	good1 := &model.Event{MessageID: "good1"}
	bad := &model.Event{MessageID: "bad"}
	good2 := &model.Event{MessageID: "good2"}

	fanOut := model.Step{ID: "seed", Exec: func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		return model.Result{Events: []*model.Event{good1, bad, good2}}, nil
	}}

	result, log := Run(context.Background(), []model.Step{fanOut, maybeFail}, &model.Event{}, model.FullContext{})

	require.Len(t, result.Events, 2)
	assert.Equal(t, "good1", result.Events[0].MessageID)
	assert.Equal(t, "good2", result.Events[1].MessageID)

	require.Len(t, log, 2)
	assert.Equal(t, model.OutcomeError, log[1].Outcome)
}

func TestCheckError_RetryableTakesPrecedenceOverFatal(t *testing.T) {
	log := model.ExecutionLog{
		{StepID: "s1", Outcome: model.OutcomeError, Err: model.NewErr(model.KindConfigError, "s1", errors.New("bad config"))},
		{StepID: "s2", Outcome: model.OutcomeError, Err: model.NewErr(model.KindTransientDownstream, "s2", errors.New("503"))},
	}
	retryable, fatal := CheckError(log)
	assert.True(t, retryable)
	assert.True(t, fatal)
}

func TestCheckError_FatalOnlyIsNotRetryable(t *testing.T) {
	log := model.ExecutionLog{
		{StepID: "s1", Outcome: model.OutcomeError, Err: model.NewErr(model.KindConfigError, "s1", errors.New("bad config"))},
	}
	retryable, fatal := CheckError(log)
	assert.False(t, retryable)
	assert.True(t, fatal)
}

func TestCheckError_AllOKIsNeitherRetryableNorFatal(t *testing.T) {
	log := model.ExecutionLog{
		{StepID: "s1", Outcome: model.OutcomeOK},
	}
	retryable, fatal := CheckError(log)
	assert.False(t, retryable)
	assert.False(t, fatal)
}

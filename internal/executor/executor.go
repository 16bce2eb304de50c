// Package executor implements the chain executor: runs an ordered step
// list against an input event with fan-out, drop, and error-classification
// semantics.
package executor

import (
	"context"
	"time"

	"github.com/arc-self/rotor/internal/model"
)

// Run executes steps against the initial event under full, returning the
// final event set and the execution log:
//   - the current event set starts as [event];
//   - each step runs exec against every event in the current set, fanning
//     results into the next set;
//   - if the set empties, no subsequent step runs;
//   - per-event errors within a fan-out set do not cancel siblings.
func Run(ctx context.Context, steps []model.Step, event *model.Event, full model.FullContext) (model.Result, model.ExecutionLog) {
	current := []*model.Event{event}
	var log model.ExecutionLog

	for _, step := range steps {
		if len(current) == 0 {
			break
		}

		var next []*model.Event
		start := time.Now()

		var stepErr error
		fanOut := 0
		for _, ev := range current {
			res, err := step.Exec(ctx, ev, full)
			if err != nil {
				stepErr = err
				continue // sibling events still run the step
			}
			if res.Dropped {
				continue
			}
			next = append(next, res.Events...)
			fanOut += len(res.Events)
		}

		entry := model.ExecLogEntry{
			StepID:     step.ID,
			DurationMs: time.Since(start).Milliseconds(),
			FanOut:     fanOut,
		}
		switch {
		case stepErr != nil:
			entry.Outcome = model.OutcomeError
			entry.Err = stepErr
		case len(next) == 0:
			entry.Outcome = model.OutcomeDrop
		default:
			entry.Outcome = model.OutcomeOK
		}
		log = append(log, entry)

		current = next
	}

	return model.Result{Events: current}, log
}

// CheckError inspects an execution log and reports whether the overall
// message outcome is retryable. Retryable takes precedence over fatal:
// redelivery is preferred whenever any step failed with a transient error,
// even if other steps in the same run failed fatally.
func CheckError(log model.ExecutionLog) (retryable bool, fatal bool) {
	return log.HasRetryable(), log.HasFatal()
}

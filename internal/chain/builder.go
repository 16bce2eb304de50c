package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/arc-self/rotor/internal/executor"
	"github.com/arc-self/rotor/internal/model"
)

const (
	prefixTransformation = "builtin.transformation."
	prefixDestination    = "builtin.destination."
	prefixUDF            = "udf."
	bulkerDestinationID  = "builtin.destination.bulker"
	pipelineStepID       = "udf.PIPELINE"
)

// Build assembles the ordered step list for conn. filter, if non-nil,
// restricts which declared function ids actually run — applied both before
// UDF resolution (a filtered-out UDF is never fetched) and inside the
// synthetic pipeline step.
func Build(ctx context.Context, conn model.Connection, deps Deps, filter Filter) ([]model.Step, error) {
	var opts model.ConnectionOptions
	if conn.Options != nil {
		if err := mapstructure.Decode(conn.Options, &opts); err != nil {
			return nil, model.NewErr(model.KindConfigError, "", fmt.Errorf("decode connection options: %w", err))
		}
	}

	terminal, err := buildTerminalStep(conn, opts, deps)
	if err != nil {
		return nil, err
	}

	// Raw function list: declared functions + the terminal destination.
	raw := append([]model.FunctionRef{}, opts.Functions...)
	raw = append(raw, model.FunctionRef{FunctionID: terminal.id})

	var (
		transforms []model.Step
		udfChain   []udfEntry
		destDecl   []model.Step
	)

	for _, ref := range raw {
		if !filter.allows(ref.FunctionID) {
			continue
		}

		switch {
		case ref.FunctionID == terminal.id:
			destDecl = append(destDecl, terminal.step)

		case strings.HasPrefix(ref.FunctionID, prefixTransformation):
			factory, ok := TransformationBuiltins[ref.FunctionID]
			if !ok {
				return nil, model.NewErr(model.KindConfigError, ref.FunctionID, fmt.Errorf("unknown builtin transformation %q", ref.FunctionID))
			}
			transforms = append(transforms, model.Step{
				ID:     ref.FunctionID,
				Kind:   model.StepBuiltinTransformation,
				Config: ref.FunctionOptions,
				Exec:   factory(ref.FunctionOptions),
			})

		case strings.HasPrefix(ref.FunctionID, prefixDestination):
			factory, ok := DestinationBuiltins[ref.FunctionID]
			if !ok {
				return nil, model.NewErr(model.KindConfigError, ref.FunctionID, fmt.Errorf("unknown builtin destination %q", ref.FunctionID))
			}
			destDecl = append(destDecl, model.Step{
				ID:     ref.FunctionID,
				Kind:   model.StepBuiltinDestination,
				Config: ref.FunctionOptions,
				Exec:   factory(deps, conn, ref.FunctionOptions),
			})

		case strings.HasPrefix(ref.FunctionID, prefixUDF):
			entry, err := resolveUDF(ctx, conn, ref, deps)
			if err != nil {
				return nil, err
			}
			udfChain = append(udfChain, entry)

		default:
			return nil, model.NewErr(model.KindUnknownFunctionType, ref.FunctionID, fmt.Errorf("unknown function id class %q", ref.FunctionID))
		}
	}

	// Aggregated order: transforms, then a single udf.PIPELINE if any UDFs
	// were declared, then destinations — this reordering is intentional
	// regardless of declared interleaving.
	steps := make([]model.Step, 0, len(transforms)+1+len(destDecl))
	steps = append(steps, transforms...)
	if len(udfChain) > 0 {
		steps = append(steps, model.Step{
			ID:   pipelineStepID,
			Kind: model.StepUDFPipeline,
			Exec: pipelineExec(udfChain, filter),
		})
	}
	steps = append(steps, destDecl...)

	return steps, nil
}

type udfEntry struct {
	ref  model.FunctionRef
	def  *model.FunctionDefinition
	deps Deps
}

// resolveUDF fetches the function definition, enforces workspace
// isolation, and acquires the compiled wrapper.
func resolveUDF(ctx context.Context, conn model.Connection, ref model.FunctionRef, deps Deps) (udfEntry, error) {
	id := strings.TrimPrefix(ref.FunctionID, prefixUDF)

	def, err := deps.Functions.GetFunctionDefinition(ctx, id)
	if err != nil {
		return udfEntry{}, err
	}
	if def.WorkspaceID != conn.WorkspaceID {
		return udfEntry{}, model.NewErr(model.KindWorkspaceMismatch, ref.FunctionID,
			fmt.Errorf("function %s belongs to workspace %s, connection is in %s", id, def.WorkspaceID, conn.WorkspaceID))
	}

	if _, err := deps.UDFs.Acquire(ctx, id, def.Name, def.Code); err != nil {
		return udfEntry{}, model.NewErr(model.KindUDFRuntimeError, ref.FunctionID, err)
	}

	return udfEntry{ref: ref, def: def, deps: deps}, nil
}

// pipelineExec builds the udf.PIPELINE step's exec function: it runs the
// resolved udfChain through the chain executor against the incoming event
// with a reduced context.
func pipelineExec(chain []udfEntry, filter Filter) model.ExecFunc {
	steps := make([]model.Step, 0, len(chain))
	for _, entry := range chain {
		entry := entry
		if !filter.allows(entry.ref.FunctionID) {
			continue
		}
		steps = append(steps, model.Step{
			ID:   entry.ref.FunctionID,
			Kind: model.StepUDFPipeline,
			Exec: udfInvokeExec(entry),
		})
	}

	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		reducedFull := model.FullContext{
			Connection: full.Connection,
			Store:      full.Store,
			EventCtx:   full.EventCtx.Reduced(),
			System:     nil, // UDFs never see the system context
		}
		result, log := executor.Run(ctx, steps, event, reducedFull)
		if err, ok := firstFatal(log); ok {
			return model.Result{}, err
		}
		return result, nil
	}
}

func firstFatal(log model.ExecutionLog) (error, bool) {
	for _, e := range log {
		if e.Outcome == model.OutcomeError {
			return e.Err, true
		}
	}
	return nil, false
}

// udfInvokeExec wraps a single UDF's invocation with the disposed-sandbox
// recovery loop: on the distinguished disposed error, rebuild the wrapper
// once from the same code and retry; any other error, or a second disposed
// in a row, propagates.
func udfInvokeExec(entry udfEntry) model.ExecFunc {
	return func(ctx context.Context, event *model.Event, full model.FullContext) (model.Result, error) {
		id := strings.TrimPrefix(entry.ref.FunctionID, prefixUDF)

		compiled, err := entry.deps.UDFs.Acquire(ctx, id, entry.def.Name, entry.def.Code)
		if err != nil {
			return model.Result{}, model.NewErr(model.KindUDFRuntimeError, entry.ref.FunctionID, err)
		}

		result, err := compiled.Wrapper.Invoke(ctx, event, full.EventCtx)
		if err == nil {
			return result, nil
		}
		if !isDisposed(err) {
			return model.Result{}, model.NewErr(model.KindUDFRuntimeError, entry.ref.FunctionID, err)
		}

		rebuilt, rerr := entry.deps.UDFs.Rebuild(ctx, id, entry.def.Name, entry.def.Code)
		if rerr != nil {
			return model.Result{}, model.NewErr(model.KindUDFRuntimeError, entry.ref.FunctionID, rerr)
		}
		result, err = rebuilt.Wrapper.Invoke(ctx, event, full.EventCtx)
		if err != nil {
			if isDisposed(err) {
				return model.Result{}, model.NewErr(model.KindSandboxDisposed, entry.ref.FunctionID,
					fmt.Errorf("sandbox disposed twice in a row: %w", err))
			}
			return model.Result{}, model.NewErr(model.KindUDFRuntimeError, entry.ref.FunctionID, err)
		}
		return result, nil
	}
}

func isDisposed(err error) bool {
	return err != nil && strings.Contains(err.Error(), model.ErrDisposed.Error())
}

type terminalStep struct {
	id   string
	step model.Step
}

// buildTerminalStep resolves the connection's final destination step: the
// bulker if the connection uses it, otherwise the builtin matching its type.
func buildTerminalStep(conn model.Connection, opts model.ConnectionOptions, deps Deps) (terminalStep, error) {
	if conn.UsesBulker {
		layout := opts.DataLayout
		if layout == "" {
			layout = model.DataLayoutSegmentSingleTable
		}
		return terminalStep{
			id: bulkerDestinationID,
			step: model.Step{
				ID:   bulkerDestinationID,
				Kind: model.StepBuiltinDestination,
				Exec: bulkerDestination(deps, conn, layout),
			},
		}, nil
	}

	id := prefixDestination + conn.Type
	factory, ok := DestinationBuiltins[id]
	if !ok {
		return terminalStep{}, model.NewErr(model.KindConfigError, id,
			fmt.Errorf("no destination builtin registered for connection type %q", conn.Type))
	}
	return terminalStep{
		id: id,
		step: model.Step{
			ID:   id,
			Kind: model.StepBuiltinDestination,
			Exec: factory(deps, conn, nil),
		},
	}, nil
}

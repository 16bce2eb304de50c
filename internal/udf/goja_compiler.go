package udf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/arc-self/rotor/internal/model"
)

// invokeTimeout bounds a single UDF call.
const invokeTimeout = 5 * time.Second

// GojaCompiler compiles UDF source into a goja.Runtime-backed Wrapper.
type GojaCompiler struct{}

// NewGojaCompiler builds the default in-process UDF compiler.
func NewGojaCompiler() *GojaCompiler { return &GojaCompiler{} }

// Compile runs code and binds the global `default` as the entry point,
// called as default(event, context). Because `default` is a reserved word,
// code must assign it (e.g. `globalThis["default"] = function (event,
// context) {...}`); a `function default(...)` declaration is a syntax
// error. name and id are used only for error messages.
func (c *GojaCompiler) Compile(id, name, code string) (Wrapper, error) {
	vm := goja.New()
	new(gojaConsole).install(vm)

	if _, err := vm.RunString(code); err != nil {
		return nil, fmt.Errorf("udf %s (%s): compile: %w", id, name, err)
	}

	entry := vm.Get("default")
	fn, ok := goja.AssertFunction(entry)
	if !ok {
		return nil, fmt.Errorf("udf %s (%s): no exported `default` function", id, name)
	}

	return &gojaWrapper{id: id, name: name, vm: vm, fn: fn}, nil
}

type gojaWrapper struct {
	id, name string

	mu       sync.Mutex
	vm       *goja.Runtime
	fn       goja.Callable
	disposed bool
}

func (w *gojaWrapper) Invoke(ctx context.Context, event *model.Event, evtCtx model.EventContext) (model.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disposed {
		return model.Result{}, fmt.Errorf("udf %s: %w", w.id, model.ErrDisposed)
	}

	done := make(chan struct{})
	var (
		result model.Result
		err    error
	)
	go func() {
		defer close(done)
		result, err = w.call(event, evtCtx)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		w.vm.Interrupt(ctx.Err())
		<-done
		w.vm.ClearInterrupt()
		return model.Result{}, fmt.Errorf("udf %s: %w", w.id, ctx.Err())
	case <-time.After(invokeTimeout):
		w.vm.Interrupt(fmt.Errorf("udf %s: invocation exceeded %s", w.id, invokeTimeout))
		<-done
		w.vm.ClearInterrupt()
		return model.Result{}, fmt.Errorf("udf %s: invocation exceeded %s", w.id, invokeTimeout)
	}
}

func (w *gojaWrapper) call(event *model.Event, evtCtx model.EventContext) (model.Result, error) {
	jsEvent := w.vm.ToValue(event)
	jsCtx := w.vm.ToValue(evtCtx)

	ret, err := w.fn(goja.Undefined(), jsEvent, jsCtx)
	if err != nil {
		return model.Result{}, fmt.Errorf("udf %s: runtime error: %w", w.id, err)
	}

	return decodeResult(w.vm, ret)
}

// decodeResult maps a UDF's JS return value onto model.Result: null/undefined
// is a drop, an array is a fan-out, anything else is a single replacement
// event.
func decodeResult(vm *goja.Runtime, ret goja.Value) (model.Result, error) {
	if ret == nil || goja.IsNull(ret) || goja.IsUndefined(ret) {
		return model.Result{Dropped: true}, nil
	}

	exported := ret.Export()
	switch v := exported.(type) {
	case []any:
		events := make([]*model.Event, 0, len(v))
		for _, item := range v {
			ev, err := toEvent(item)
			if err != nil {
				return model.Result{}, err
			}
			events = append(events, ev)
		}
		return model.Result{Events: events}, nil
	default:
		ev, err := toEvent(exported)
		if err != nil {
			return model.Result{}, err
		}
		return model.Result{Events: []*model.Event{ev}}, nil
	}
}

func toEvent(v any) (*model.Event, error) {
	ev, ok := v.(*model.Event)
	if ok {
		return ev, nil
	}
	// goja round-trips complex values as map[string]interface{}; re-marshal
	// through the Event's JSON codec to respect Extra field preservation.
	return remarshalEvent(v)
}

func (w *gojaWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposed = true
	return nil
}

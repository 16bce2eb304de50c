package udf

import (
	"fmt"

	"github.com/dop251/goja"
)

// gojaConsole installs a minimal `console.log`/`console.error` binding so
// UDF authors can debug without the sandbox trapping on an undefined
// global, matching what most embedded-JS hosts provide.
type gojaConsole struct{}

func (gojaConsole) install(vm *goja.Runtime) {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		fmt.Println(args...)
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = console.Set("error", logFn)
	_ = console.Set("warn", logFn)
	_ = vm.Set("console", console)
}

package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"feedsync/internal/wire"
)

// Runtime wraps goja VM with plugin-specific bindings
type Runtime struct {
	vm     *goja.Runtime
	logger zerolog.Logger
}

// NewRuntime creates a new Runtime with all necessary bindings
func NewRuntime(logger zerolog.Logger) *Runtime {
	vm := goja.New()
	r := &Runtime{
		vm:     vm,
		logger: logger,
	}
	r.setupBindings()
	return r
}

// VM returns the underlying goja runtime
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// setupBindings sets up all JavaScript bindings
func (r *Runtime) setupBindings() {
	r.setupConsole()
	r.setupUtils()
}

func exportArgs(call goja.FunctionCall) []interface{} {
	args := make([]interface{}, len(call.Arguments))
	for i, arg := range call.Arguments {
		args[i] = arg.Export()
	}
	return args
}

// setupConsole routes console.log, console.warn, console.error and console.debug to the logger
func (r *Runtime) setupConsole() {
	console := r.vm.NewObject()

	levels := map[string]func() *zerolog.Event{
		"log":   r.logger.Info,
		"warn":  r.logger.Warn,
		"error": r.logger.Error,
		"debug": r.logger.Debug,
	}
	for name, level := range levels {
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			level().Msgf("[plugin] %v", exportArgs(call))
			return goja.Undefined()
		})
	}

	r.vm.Set("console", console)
}

// setupUtils creates helper functions available to plugins
func (r *Runtime) setupUtils() {
	utils := r.vm.NewObject()

	utils.Set("parseJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("parseJSON requires string"))
		}
		var result interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &result); err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return r.vm.ToValue(result)
	})

	utils.Set("stringifyJSON", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("stringifyJSON requires value"))
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			panic(r.vm.ToValue(fmt.Sprintf("JSON stringify error: %v", err)))
		}
		return r.vm.ToValue(string(data))
	})

	// fail(texts...) builds a data error result; retry(texts...) adds the Retry marker
	utils.Set("fail", func(call goja.FunctionCall) goja.Value {
		return r.errorResult(nil, call)
	})
	utils.Set("retry", func(call goja.FunctionCall) goja.Value {
		return r.errorResult([]string{wire.ErrorCodeRetry}, call)
	})

	r.vm.Set("utils", utils)
}

func (r *Runtime) errorResult(markers []string, call goja.FunctionCall) goja.Value {
	texts := make([]interface{}, 0, len(markers)+len(call.Arguments))
	for _, marker := range markers {
		texts = append(texts, marker)
	}
	for _, arg := range call.Arguments {
		texts = append(texts, arg.String())
	}
	if len(texts) == 0 {
		panic(r.vm.ToValue("error result requires at least one text"))
	}
	return r.vm.ToValue(map[string]interface{}{"error": texts})
}

// RunProgram executes a compiled program in the runtime
func (r *Runtime) RunProgram(program *goja.Program) (goja.Value, error) {
	return r.vm.RunProgram(program)
}

// CallFunction calls a JavaScript function by name
func (r *Runtime) CallFunction(name string, args ...interface{}) (goja.Value, error) {
	fn, ok := goja.AssertFunction(r.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("function %s not found", name)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		jsArgs[i] = r.vm.ToValue(arg)
	}

	return fn(goja.Undefined(), jsArgs...)
}

// Interrupt aborts the running script
func (r *Runtime) Interrupt(reason string) {
	r.vm.Interrupt(reason)
}

// ClearInterrupt allows the runtime to be used again after an interrupt
func (r *Runtime) ClearInterrupt() {
	r.vm.ClearInterrupt()
}

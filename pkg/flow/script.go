package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const defaultScriptTimeout = time.Second

// blockedGlobals are removed from every script runtime.
var blockedGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
	"eval",
}

// newScriptAction compiles the node's "script" once. Each run gets a fresh
// sandboxed runtime exposing state.get(key) and state.set(key, value); the
// script's completion value is stored under "key" when that attribute is set.
func newScriptAction(n *Node, timeout time.Duration) (action, error) {
	prog, err := goja.Compile(n.ID, n.Attrs["script"], true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return func(ctx context.Context, n *Node, st *State) error {
		return runScript(ctx, prog, timeout, n.Attrs["key"], st)
	}, nil
}

func runScript(ctx context.Context, prog *goja.Program, timeout time.Duration, key string, st *State) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm := goja.New()
	for _, name := range blockedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("sandbox: remove %s: %w", name, err)
		}
	}
	state := vm.NewObject()
	if err := state.Set("get", func(k string) any {
		v, _ := st.Get(k)
		return v
	}); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if err := state.Set("set", func(k string, v any) { st.Set(k, v) }); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if err := vm.Set("state", state); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("script interrupted")
		case <-done:
		}
	}()

	val, err := vm.RunProgram(prog)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("script cancelled: %w", ctxErr)
			}
			return fmt.Errorf("script timed out after %s", timeout)
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return fmt.Errorf("script error: %s", exc.Error())
		}
		return fmt.Errorf("script: %w", err)
	}

	if key != "" && val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		st.Set(key, val.Export())
	}
	return nil
}

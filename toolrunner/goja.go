package toolrunner

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/contenox/agentplan/libtracker"
	"github.com/dop251/goja"
)

// Ensure GojaInvoker implements the Invoker interface
var _ Invoker = (*GojaInvoker)(nil)

// GojaInvoker executes registered JavaScript tools in a sandboxed goja VM.
// Scripts receive the action args and the idempotency token; they either
// define a function named after the tool or assign the global `result`.
type GojaInvoker struct {
	tracker   libtracker.ActivityTracker
	vmPool    sync.Pool
	toolCache *sync.Map // tool name -> *compiledTool
}

// compiledTool is a pre-compiled tool script with version tracking.
type compiledTool struct {
	program  *goja.Program
	codeHash string
}

// NewGojaInvoker creates an invoker with an empty tool registry.
func NewGojaInvoker(tracker libtracker.ActivityTracker) *GojaInvoker {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	inv := &GojaInvoker{
		tracker:   tracker,
		toolCache: &sync.Map{},
	}
	inv.vmPool = sync.Pool{
		New: func() interface{} {
			return goja.New()
		},
	}
	return inv
}

// RegisterTool compiles and registers (or replaces) a tool script.
func (g *GojaInvoker) RegisterTool(name, script string) error {
	hash := hashCode(script)
	if cached, ok := g.toolCache.Load(name); ok {
		if cached.(*compiledTool).codeHash == hash {
			return nil
		}
	}
	program, err := goja.Compile(name, script, false)
	if err != nil {
		return fmt.Errorf("failed to compile tool %s: %w", name, err)
	}
	g.toolCache.Store(name, &compiledTool{program: program, codeHash: hash})
	return nil
}

// actionSpec is the invoker-side view of the opaque step payload.
type actionSpec struct {
	Category string         `json:"category"`
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args"`
}

func (g *GojaInvoker) Invoke(ctx context.Context, rawSpec json.RawMessage, idempotencyToken string) (string, error) {
	var spec actionSpec
	if err := json.Unmarshal(rawSpec, &spec); err != nil {
		return "", InvalidInput("action spec is not valid JSON", err)
	}
	if spec.Tool == "" {
		return "", InvalidInput("action spec is missing the tool name", nil)
	}

	cached, ok := g.toolCache.Load(spec.Tool)
	if !ok {
		return "", InvalidInput(fmt.Sprintf("unknown tool %q", spec.Tool), nil)
	}
	tool := cached.(*compiledTool)

	reportErr, reportChange, end := g.tracker.Start(ctx, "invoke", "tool", "tool", spec.Tool)
	defer end()

	vm := g.vmPool.Get().(*goja.Runtime)
	defer g.vmPool.Put(vm)

	// Interrupt the VM when the context ends so a runaway script cannot
	// outlive the step's execution budget.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-watchDone:
		}
	}()
	defer vm.ClearInterrupt()

	// Reset VM state (clear previous execution results)
	_ = vm.Set("result", nil)
	if err := vm.Set("args", spec.Args); err != nil {
		reportErr(err)
		return "", Permanent("failed to bind tool args", err)
	}
	if err := vm.Set("idempotency_token", idempotencyToken); err != nil {
		reportErr(err)
		return "", Permanent("failed to bind idempotency token", err)
	}

	if _, err := vm.RunProgram(tool.program); err != nil {
		reportErr(err)
		return "", classifyScriptError(ctx, err)
	}

	resultVal := vm.Get(spec.Tool)
	if fn, isFn := goja.AssertFunction(resultVal); isFn {
		callRes, err := fn(goja.Undefined(), vm.ToValue(spec.Args), vm.ToValue(idempotencyToken))
		if err != nil {
			reportErr(err)
			return "", classifyScriptError(ctx, err)
		}
		resultVal = callRes
	} else {
		resultVal = vm.Get("result")
	}

	payload, err := marshalResult(resultVal)
	if err != nil {
		reportErr(err)
		return "", Permanent("tool returned a non-JSON result", err)
	}

	reportChange(spec.Tool, map[string]interface{}{
		"category":      spec.Category,
		"result_length": len(payload),
	})
	return payload, nil
}

func marshalResult(val goja.Value) (string, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return "", nil
	}
	data, err := json.Marshal(val.Export())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// classifyScriptError maps VM failures onto the tool error taxonomy. An
// interrupted run surfaces the context error so a timeout stays transient.
func classifyScriptError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return Transient("tool execution exceeded its budget", ctxErr)
		}
		return Transient("tool execution cancelled", ctxErr)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return Transient("tool execution interrupted", err)
	}
	return Permanent("tool script failed", err)
}

func hashCode(code string) string {
	sum := sha1.Sum([]byte(code))
	return base64.StdEncoding.EncodeToString(sum[:])
}

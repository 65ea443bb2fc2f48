// Package script evaluates user-supplied JavaScript formulas (the production
// bonus formula of the simulation) in a pool of restricted goja runtimes.
package script

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a script exceeds the execution time limit.
var ErrTimeout = errors.New("script: execution timed out")

// ErrPanic is returned when a script throws an uncaught exception.
var ErrPanic = errors.New("script: uncaught exception")

// ErrNotNumber is returned by EvalNumber when the result is not numeric.
var ErrNotNumber = errors.New("script: result is not a number")

// Vars are injected as globals for one evaluation and removed afterwards.
type Vars map[string]interface{}

// VMPool is a thread-safe pool of pre-initialised goja runtimes.
type VMPool struct {
	pool    chan *goja.Runtime
	timeout time.Duration
	logger  *zap.Logger
	size    int
}

// NewVMPool creates a VMPool with the given concurrency size and per-script timeout.
func NewVMPool(size int, timeout time.Duration, logger *zap.Logger) *VMPool {
	if size <= 0 {
		size = 2
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	p := &VMPool{
		pool:    make(chan *goja.Runtime, size),
		timeout: timeout,
		logger:  logger,
		size:    size,
	}
	for i := 0; i < size; i++ {
		p.pool <- newSafeVM()
	}
	return p
}

// Size returns the number of runtimes in the pool.
func (p *VMPool) Size() int { return p.size }

// Run executes prog inside a pooled VM with vars bound as globals.
// Returns the exported value of the last expression, or an error.
func (p *VMPool) Run(ctx context.Context, prog *goja.Program, vars Vars) (interface{}, error) {
	select {
	case vm := <-p.pool:
		out, err, tainted := p.runVM(ctx, vm, prog, vars)
		if tainted {
			// An interrupted runtime is not reused.
			p.pool <- newSafeVM()
		} else {
			vm.ClearInterrupt()
			p.pool <- vm
		}
		return out, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *VMPool) runVM(ctx context.Context, vm *goja.Runtime, prog *goja.Program, vars Vars) (out interface{}, err error, tainted bool) {
	global := vm.GlobalObject()
	for name, v := range vars {
		_ = global.Set(name, v)
	}
	defer func() {
		for name := range vars {
			_ = global.Delete(name)
		}
	}()

	timer := time.AfterFunc(p.timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	var result goja.Value
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		result, err = vm.RunProgram(prog)
	}()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, cause, true
			}
			return nil, ErrTimeout, true
		}
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return nil, fmt.Errorf("%w: %s", ErrPanic, ex.Value().String()), false
		}
		return nil, err, false
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil, false
	}
	return result.Export(), nil, false
}

// newSafeVM creates a goja Runtime with dangerous globals removed.
func newSafeVM() *goja.Runtime {
	vm := goja.New()
	for _, name := range []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function"} {
		_ = vm.Set(name, goja.Undefined())
	}
	m := vm.NewObject()
	_ = m.Set("floor", math.Floor)
	_ = m.Set("ceil", math.Ceil)
	_ = m.Set("round", func(v float64) float64 { return math.Floor(v + 0.5) })
	_ = m.Set("abs", math.Abs)
	_ = m.Set("sqrt", math.Sqrt)
	_ = m.Set("pow", math.Pow)
	_ = m.Set("max", math.Max)
	_ = m.Set("min", math.Min)
	// Formulas must be deterministic for a seeded simulation.
	_ = m.Set("random", func() float64 { return 0 })
	_ = vm.Set("Math", m)
	return vm
}

// Sandbox wraps a VMPool and provides a simple Run interface with context support.
type Sandbox struct {
	pool   *VMPool
	logger *zap.Logger
}

// NewSandbox creates a Sandbox backed by a VMPool.
func NewSandbox(size int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	return &Sandbox{
		pool:   NewVMPool(size, timeout, logger),
		logger: logger,
	}
}

// Compile parses src once so it can be evaluated many times.
func Compile(src string) (*goja.Program, error) {
	prog, err := goja.Compile("formula", src, true)
	if err != nil {
		return nil, fmt.Errorf("script: compile: %w", err)
	}
	return prog, nil
}

// Eval compiles and executes src with vars bound, returning the result.
func (sb *Sandbox) Eval(ctx context.Context, src string, vars Vars) (interface{}, error) {
	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return sb.Run(ctx, prog, vars)
}

// Run executes a compiled program.
func (sb *Sandbox) Run(ctx context.Context, prog *goja.Program, vars Vars) (interface{}, error) {
	result, err := sb.pool.Run(ctx, prog, vars)
	if err != nil {
		sb.logger.Warn("script execution error", zap.Error(err))
	}
	return result, err
}

// EvalNumber runs prog and converts the result to float64.
func (sb *Sandbox) EvalNumber(ctx context.Context, prog *goja.Program, vars Vars) (float64, error) {
	out, err := sb.Run(ctx, prog, vars)
	if err != nil {
		return 0, err
	}
	switch n := out.(type) {
	case int64:
		return float64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%w: %v", ErrNotNumber, n)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrNotNumber, out)
}

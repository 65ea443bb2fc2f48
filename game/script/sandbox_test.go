package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func newSandbox(t *testing.T) *Sandbox {
	t.Helper()
	return NewSandbox(2, 200*time.Millisecond, nop())
}

func TestSandbox_BasicArithmetic(t *testing.T) {
	sb := newSandbox(t)
	out, err := sb.Eval(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestSandbox_VarsBound(t *testing.T) {
	sb := newSandbox(t)
	out, err := sb.Eval(context.Background(), "base * count * multiplier",
		Vars{"base": 10, "count": 3, "multiplier": 1.5})
	require.NoError(t, err)
	assert.EqualValues(t, 45, out)
}

func TestSandbox_VarsDoNotLeak(t *testing.T) {
	sb := NewSandbox(1, 200*time.Millisecond, nop())
	_, err := sb.Eval(context.Background(), "base", Vars{"base": 1})
	require.NoError(t, err)

	out, err := sb.Eval(context.Background(), "typeof base", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", out)
}

func TestSandbox_NullAndUndefined(t *testing.T) {
	sb := newSandbox(t)
	for _, src := range []string{"null", "undefined"} {
		out, err := sb.Eval(context.Background(), src, nil)
		require.NoError(t, err)
		assert.Nil(t, out)
	}
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile("{{{{ broken")
	assert.Error(t, err)
}

func TestSandbox_RuntimeException(t *testing.T) {
	sb := newSandbox(t)
	_, err := sb.Eval(context.Background(), `throw new Error("boom")`, nil)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "boom")
}

func TestSandbox_Timeout(t *testing.T) {
	sb := NewSandbox(1, 50*time.Millisecond, nop())
	_, err := sb.Eval(context.Background(), `while(true){}`, nil)
	assert.True(t, errors.Is(err, ErrTimeout), "expected ErrTimeout, got %v", err)

	// the replacement runtime works
	out, err := sb.Eval(context.Background(), "2 * 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), out)
}

func TestSandbox_ContextCancelInterrupts(t *testing.T) {
	sb := NewSandbox(1, 5*time.Second, nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sb.Eval(ctx, `while(true){}`, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSandbox_ContextCancelWhileWaiting(t *testing.T) {
	sb := NewSandbox(1, 5*time.Second, nop())
	busyCtx, stopBusy := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = sb.Eval(busyCtx, `while(true){}`, nil)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sb.Eval(ctx, "1+1", nil)
	assert.Error(t, err)

	stopBusy()
	<-done
}

func TestSandbox_Math(t *testing.T) {
	sb := newSandbox(t)
	cases := map[string]float64{
		"Math.floor(3.9)":  3,
		"Math.floor(-1.5)": -2,
		"Math.ceil(3.1)":   4,
		"Math.round(2.6)":  3,
		"Math.abs(-5)":     5,
		"Math.max(3, 7)":   7,
		"Math.min(3, 7)":   3,
		"Math.pow(2, 10)":  1024,
		"Math.random()":    0,
	}
	for src, want := range cases {
		prog, err := Compile(src)
		require.NoError(t, err, src)
		got, err := sb.EvalNumber(context.Background(), prog, nil)
		require.NoError(t, err, src)
		assert.Equal(t, want, got, src)
	}
}

func TestSandbox_BlockedGlobals(t *testing.T) {
	sb := newSandbox(t)
	for _, src := range []string{"require('fs')", "process.exit(0)", "eval('1+1')", "Function('return 1')()"} {
		_, err := sb.Eval(context.Background(), src, nil)
		assert.Error(t, err, src)
	}
}

func TestEvalNumber_NotNumber(t *testing.T) {
	sb := newSandbox(t)
	prog, err := Compile(`"text"`)
	require.NoError(t, err)
	_, err = sb.EvalNumber(context.Background(), prog, nil)
	assert.ErrorIs(t, err, ErrNotNumber)

	prog, err = Compile(`0 / 0`)
	require.NoError(t, err)
	_, err = sb.EvalNumber(context.Background(), prog, nil)
	assert.ErrorIs(t, err, ErrNotNumber)
}

func TestSandbox_Concurrent(t *testing.T) {
	sb := NewSandbox(4, 200*time.Millisecond, nop())
	prog, err := Compile("base * 2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := sb.EvalNumber(context.Background(), prog, Vars{"base": n})
			if err == nil && got != float64(n*2) {
				err = errors.New("wrong result")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(fn func()) HookFn {
	return func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		fn()
		return d, nil
	}
}

func TestTrigger_NoHandlers(t *testing.T) {
	hc := NewHookCenter()
	out, err := hc.Trigger(context.Background(), BeforeBuild, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestTrigger_EventNamePassed(t *testing.T) {
	hc := NewHookCenter()
	var got string
	hc.Register(AfterBuild, 0, "h", func(_ context.Context, event string, d interface{}) (interface{}, error) {
		got = event
		return d, nil
	})
	_, err := hc.Trigger(context.Background(), AfterBuild, nil)
	require.NoError(t, err)
	assert.Equal(t, "after_build", got)
}

func TestTrigger_DataPassThrough(t *testing.T) {
	hc := NewHookCenter()
	hc.Register(AfterSimulate, 0, "double", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) * 2, nil
	})
	hc.Register(AfterSimulate, 1, "addTen", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) + 10, nil
	})
	out, err := hc.Trigger(context.Background(), AfterSimulate, 5)
	require.NoError(t, err)
	assert.Equal(t, 20, out)
}

func TestTrigger_PriorityThenRegistrationOrder(t *testing.T) {
	hc := NewHookCenter()
	var order []string
	hc.Register(BeforeBuild, 10, "late", pass(func() { order = append(order, "late") }))
	hc.Register(BeforeBuild, 0, "switch", pass(func() { order = append(order, "switch") }))
	hc.Register(BeforeBuild, 0, "second", pass(func() { order = append(order, "second") }))

	_, _ = hc.Trigger(context.Background(), BeforeBuild, nil)
	assert.Equal(t, []string{"switch", "second", "late"}, order)
	assert.Equal(t, []string{"switch", "second", "late"}, hc.Handlers(BeforeBuild))
}

func TestTrigger_ErrInterrupt(t *testing.T) {
	hc := NewHookCenter()
	var secondCalled bool
	hc.Register(BeforeSave, 0, "stopper", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d, ErrInterrupt
	})
	hc.Register(BeforeSave, 1, "should_not_run", pass(func() { secondCalled = true }))
	_, err := hc.Trigger(context.Background(), BeforeSave, nil)
	assert.ErrorIs(t, err, ErrInterrupt)
	assert.False(t, secondCalled)
}

func TestTrigger_ErrorsJoinedChainContinues(t *testing.T) {
	hc := NewHookCenter()
	boom := errors.New("boom")
	var secondCalled bool
	hc.Register(AfterBuild, 0, "failing", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return "discarded", boom
	})
	hc.Register(AfterBuild, 1, "second", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		secondCalled = true
		assert.Equal(t, "in", d)
		return d, nil
	})
	out, err := hc.Trigger(context.Background(), AfterBuild, "in")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after_build/failing")
	assert.True(t, secondCalled)
	assert.Equal(t, "in", out)
}

func TestUnregister_OnlyNamed(t *testing.T) {
	hc := NewHookCenter()
	var c1, c2 bool
	hc.Register(BeforeBuild, 0, "h1", pass(func() { c1 = true }))
	hc.Register(BeforeBuild, 1, "h2", pass(func() { c2 = true }))
	hc.Unregister(BeforeBuild, "h1")
	_, _ = hc.Trigger(context.Background(), BeforeBuild, nil)
	assert.False(t, c1)
	assert.True(t, c2)
}

func TestUnregisterAll(t *testing.T) {
	hc := NewHookCenter()
	var pre, post, other bool
	hc.Register(BeforeBuild, 0, "build-switch", pass(func() { pre = true }))
	hc.Register(AfterBuild, 0, "build-switch", pass(func() { post = true }))
	hc.Register(AfterBuild, 1, "other", pass(func() { other = true }))
	hc.UnregisterAll("build-switch")
	_, _ = hc.Trigger(context.Background(), BeforeBuild, nil)
	_, _ = hc.Trigger(context.Background(), AfterBuild, nil)
	assert.False(t, pre)
	assert.False(t, post)
	assert.True(t, other)
}

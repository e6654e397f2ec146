package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeInvoker scripts per-agent behavior and records call order.
type fakeInvoker struct {
	behaviors map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult
	calls     []string
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, params, callCtx map[string]interface{}) *types.InvocationResult {
	f.calls = append(f.calls, name)
	if fn, ok := f.behaviors[name]; ok {
		res := fn(params, callCtx)
		res.Agent = name
		res.Timestamp = time.Now()
		return res
	}
	return &types.InvocationResult{Success: true, Agent: name, Timestamp: time.Now()}
}

func okResult() *types.InvocationResult {
	return &types.InvocationResult{Success: true}
}

func steps(agents ...string) []Step {
	out := make([]Step, len(agents))
	for i, a := range agents {
		out[i] = Step{Agent: a}
	}
	return out
}

func runState(s []Step) *State {
	return &State{ID: "t", Steps: s, Status: StatusRunning, Context: map[string]interface{}{}}
}

func TestExecuteRunsAllSteps(t *testing.T) {
	inv := &fakeInvoker{}
	state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b", "c")))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a", "b", "c"}, inv.calls)
	assert.Len(t, state.Results, 3)
	assert.Equal(t, 3, state.Cursor)
}

func TestStopDirectiveHaltsAfterCurrentStep(t *testing.T) {
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"b": func(_, _ map[string]interface{}) *types.InvocationResult {
			return &types.InvocationResult{
				Success: true,
				Result:  map[string]interface{}{"directive": "stop", "reason": "done early"},
			}
		},
	}}

	state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b", "c", "d")))
	require.NoError(t, err)

	// Stop at step index 1: exactly steps [0..1] ran, log length 2.
	assert.Equal(t, StatusStopped, state.Status)
	assert.Equal(t, []string{"a", "b"}, inv.calls)
	assert.Len(t, state.Results, 2)
	assert.Equal(t, "done early", state.StopReason)
}

func TestFailureHaltsUnlessContinueOnError(t *testing.T) {
	failing := func(_, _ map[string]interface{}) *types.InvocationResult {
		return &types.InvocationResult{Success: false, Error: "boom"}
	}

	t.Run("unmarked step halts with failed status", func(t *testing.T) {
		inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{"b": failing}}
		state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b", "c")))
		require.NoError(t, err)

		assert.Equal(t, StatusFailed, state.Status)
		assert.Equal(t, []string{"a", "b"}, inv.calls)
		assert.Equal(t, "boom", state.StopReason)
	})

	t.Run("continueOnError advances past the failure", func(t *testing.T) {
		inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{"b": failing}}
		plan := steps("a", "b", "c")
		plan[1].ContinueOnError = true

		state, err := NewEngine(inv).Execute(context.Background(), runState(plan))
		require.NoError(t, err)

		assert.Equal(t, StatusCompleted, state.Status)
		assert.Equal(t, []string{"a", "b", "c"}, inv.calls)
		assert.False(t, state.Results[1].Success)
	})
}

func TestJumpDirectiveMovesCursor(t *testing.T) {
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"a": func(_, _ map[string]interface{}) *types.InvocationResult {
			return &types.InvocationResult{
				Success: true,
				Result:  map[string]interface{}{"directive": "jump", "target": float64(2)},
			}
		},
	}}

	state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b", "c")))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a", "c"}, inv.calls, "jump(2) must skip step b")
	assert.Len(t, state.Results, 2)
}

func TestJumpPastEndCompletes(t *testing.T) {
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"a": func(_, _ map[string]interface{}) *types.InvocationResult {
			return &types.InvocationResult{
				Success: true,
				Result:  map[string]interface{}{"directive": "jump", "target": 99},
			}
		},
	}}

	state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b")))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a"}, inv.calls)
	assert.Equal(t, 2, state.Cursor, "cursor clamps to len(steps)")
}

func TestPauseRetainsStateAndResumes(t *testing.T) {
	paused := false
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"b": func(_, callCtx map[string]interface{}) *types.InvocationResult {
			if !paused {
				paused = true
				ctl := callCtx["workflow"].(map[string]interface{})
				ctl["pause"].(func(string))("waiting on user")
			}
			return okResult()
		},
	}}
	engine := NewEngine(inv)

	state, err := engine.Execute(context.Background(), runState(steps("a", "b", "c")))
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, state.Status)
	assert.Equal(t, []string{"a", "b"}, inv.calls)
	assert.Equal(t, "waiting on user", state.StopReason)
	assert.Equal(t, 2, state.Cursor)

	// Resuming picks up at the retained cursor without re-running b.
	state, err = engine.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a", "b", "c"}, inv.calls)
	assert.Len(t, state.Results, 3)
}

func TestControlCallbackStop(t *testing.T) {
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"a": func(_, callCtx map[string]interface{}) *types.InvocationResult {
			ctl := callCtx["workflow"].(map[string]interface{})
			assert.Equal(t, "running", ctl["status"].(func() string)())
			assert.Equal(t, 0, ctl["cursor"].(func() int)())
			ctl["stop"].(func(string))("abort")
			return okResult()
		},
	}}

	state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b")))
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, state.Status)
	assert.Equal(t, []string{"a"}, inv.calls)
}

func TestResultDirectiveWinsOverCallback(t *testing.T) {
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"a": func(_, callCtx map[string]interface{}) *types.InvocationResult {
			ctl := callCtx["workflow"].(map[string]interface{})
			ctl["stop"].(func(string))("callback stop")
			return &types.InvocationResult{
				Success: true,
				Result:  map[string]interface{}{"directive": "continue"},
			}
		},
	}}

	state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b")))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a", "b"}, inv.calls)
}

func TestStepResultsExposedInContext(t *testing.T) {
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"a": func(_, _ map[string]interface{}) *types.InvocationResult {
			return &types.InvocationResult{Success: true, Result: "from-a"}
		},
		"b": func(_, callCtx map[string]interface{}) *types.InvocationResult {
			byAgent := callCtx["a"].(*types.InvocationResult)
			byIndex := callCtx["step_0"].(*types.InvocationResult)
			assert.Equal(t, "from-a", byAgent.Result)
			assert.Same(t, byAgent, byIndex)
			return okResult()
		},
	}}

	state, err := NewEngine(inv).Execute(context.Background(), runState(steps("a", "b")))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestStepLocalContextOverrides(t *testing.T) {
	inv := &fakeInvoker{behaviors: map[string]func(params, callCtx map[string]interface{}) *types.InvocationResult{
		"a": func(_, callCtx map[string]interface{}) *types.InvocationResult {
			assert.Equal(t, "override", callCtx["mode"])
			assert.Equal(t, "shared", callCtx["session"])
			return okResult()
		},
	}}

	state := runState([]Step{{Agent: "a", Context: map[string]interface{}{"mode": "override"}}})
	state.Context["mode"] = "global"
	state.Context["session"] = "shared"

	out, err := NewEngine(inv).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	// Step-local overrides never leak back into the shared context.
	assert.Equal(t, "global", out.Context["mode"])
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &fakeInvoker{}
	state, err := NewEngine(inv).Execute(ctx, runState(steps("a")))
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, state.Status)
	assert.Empty(t, inv.calls)
}

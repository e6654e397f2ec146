package workflow

import (
	"context"
	"fmt"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// Invoker is the slice of the agent registry the engine needs.
type Invoker interface {
	Invoke(ctx context.Context, name string, params map[string]interface{}, callCtx map[string]interface{}) *types.InvocationResult
}

// Engine executes workflow states against an agent registry. It holds no
// per-run state of its own; everything lives in the State so a paused
// run can resume later.
type Engine struct {
	invoker Invoker
}

// NewEngine creates an engine backed by the given invoker.
func NewEngine(invoker Invoker) *Engine {
	return &Engine{invoker: invoker}
}

// Execute runs the state until it completes, fails, stops, or pauses.
// Calling Execute on a paused state resumes from the retained cursor; a
// finished state is returned unchanged.
//
// The loop is single-threaded: one step at a time, each step's result
// appended to the log and exposed in the shared context before the next
// step runs.
func (e *Engine) Execute(ctx context.Context, state *State) (*State, error) {
	if state == nil {
		return nil, fmt.Errorf("nil workflow state")
	}
	if state.Done() {
		return state, nil
	}
	state.Status = StatusRunning

	for state.Status == StatusRunning && state.Cursor < len(state.Steps) {
		if err := ctx.Err(); err != nil {
			state.Status = StatusStopped
			state.StopReason = err.Error()
			return state, nil
		}

		step := state.Steps[state.Cursor]
		ctl := newController(state)
		callCtx := e.stepContext(state, step, ctl)

		logging.WorkflowDebug("step %d/%d -> %s", state.Cursor+1, len(state.Steps), step.Agent)
		result := e.invoker.Invoke(ctx, step.Agent, step.Params, callCtx)

		state.Results = append(state.Results, result)
		state.Context[fmt.Sprintf("step_%d", state.Cursor)] = result
		state.Context[step.Agent] = result

		if !result.Success && !step.ContinueOnError {
			state.Status = StatusFailed
			state.StopReason = result.Error
			logging.Workflow("workflow %s failed at step %d (%s): %s",
				state.ID, state.Cursor, step.Agent, result.Error)
			return state, nil
		}

		e.apply(state, directiveFor(result, ctl))
	}

	if state.Status == StatusRunning {
		state.Status = StatusCompleted
	}
	logging.Workflow("workflow %s finished: status=%s steps=%d", state.ID, state.Status, len(state.Results))
	return state, nil
}

// stepContext merges, in precedence order: shared workflow context, the
// running result log, step-local overrides, and the control callbacks.
func (e *Engine) stepContext(state *State, step Step, ctl *controller) map[string]interface{} {
	callCtx := make(map[string]interface{}, len(state.Context)+len(step.Context)+3)
	for k, v := range state.Context {
		callCtx[k] = v
	}
	callCtx["results"] = append([]*types.InvocationResult(nil), state.Results...)
	for k, v := range step.Context {
		callCtx[k] = v
	}
	callCtx["workflow"] = ctl.callbacks()
	return callCtx
}

// apply advances the cursor according to the directive, clamping jumps
// so the cursor stays inside [0, len(steps)].
func (e *Engine) apply(state *State, o Outcome) {
	switch o.kind {
	case kindJump:
		target := o.target
		if target < 0 {
			target = 0
		}
		if target > len(state.Steps) {
			target = len(state.Steps)
		}
		state.Cursor = target
	case kindStop:
		state.Status = StatusStopped
		state.StopReason = o.reason
	case kindPause:
		state.Status = StatusPaused
		state.StopReason = o.reason
		// Resume re-runs nothing: the paused step already executed.
		state.Cursor++
	default:
		state.Cursor++
	}
}

// directiveFor picks the directive for a finished step. An explicit
// directive in the result payload wins over one signaled through the
// control callbacks; absent both, the step continues.
func directiveFor(result *types.InvocationResult, ctl *controller) Outcome {
	if o, ok := parseResultDirective(result); ok {
		return o
	}
	if o, ok := ctl.requested(); ok {
		return o
	}
	return Continue()
}

// parseResultDirective reads a directive embedded in a result payload of
// the shape {"directive": "stop"|"pause"|"jump"|"continue", "target": n,
// "reason": "..."}.
func parseResultDirective(result *types.InvocationResult) (Outcome, bool) {
	payload, ok := result.Result.(map[string]interface{})
	if !ok {
		return Outcome{}, false
	}
	name, ok := payload["directive"].(string)
	if !ok {
		return Outcome{}, false
	}
	reason, _ := payload["reason"].(string)

	switch name {
	case "continue":
		return Continue(), true
	case "stop":
		return Stop(reason), true
	case "pause":
		return Pause(reason), true
	case "jump":
		switch t := payload["target"].(type) {
		case int:
			return Jump(t), true
		case float64:
			return Jump(int(t)), true
		}
		return Outcome{}, false
	}
	return Outcome{}, false
}

// =============================================================================
// CONTROL CALLBACKS
// =============================================================================
// Each step receives a small callback object under the "workflow" context
// key: start/next/stop/pause mutate the pending directive for this step,
// the accessors are read-only views of the run.

type controller struct {
	state   *State
	pending *Outcome
}

func newController(state *State) *controller {
	return &controller{state: state}
}

func (c *controller) set(o Outcome) { c.pending = &o }

func (c *controller) requested() (Outcome, bool) {
	if c.pending == nil {
		return Outcome{}, false
	}
	return *c.pending, true
}

func (c *controller) callbacks() map[string]interface{} {
	return map[string]interface{}{
		"start": func() { c.set(Jump(0)) },
		"next":  func() { c.set(Continue()) },
		"stop":  func(reason string) { c.set(Stop(reason)) },
		"pause": func(reason string) { c.set(Pause(reason)) },
		"jump":  func(target int) { c.set(Jump(target)) },

		"status": func() string { return string(c.state.Status) },
		"cursor": func() int { return c.state.Cursor },
		"steps":  func() int { return len(c.state.Steps) },
	}
}

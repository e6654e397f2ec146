// Package workflow turns routing decisions into ordered agent invocation
// plans and runs them with explicit in-band control flow.
package workflow

import (
	"fmt"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// Step is one planned agent invocation. Context entries override the
// shared workflow context for this step only.
type Step struct {
	Agent           string                 `json:"agent"`
	Params          map[string]interface{} `json:"params,omitempty"`
	Context         map[string]interface{} `json:"context,omitempty"`
	ContinueOnError bool                   `json:"continue_on_error,omitempty"`
}

// Status is the workflow lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// =============================================================================
// STEP OUTCOME
// =============================================================================
// Control flow between steps is an explicit sum type rather than ad-hoc
// flags: a step either continues, jumps to an index, stops, or pauses.
// Anything other than Continue overrides the default advance-by-one.

type outcomeKind int

const (
	kindContinue outcomeKind = iota
	kindJump
	kindStop
	kindPause
)

// Outcome is the control directive a step yields.
type Outcome struct {
	kind   outcomeKind
	target int
	reason string
}

// Continue advances the cursor by one.
func Continue() Outcome { return Outcome{kind: kindContinue} }

// Jump moves the cursor to step index target.
func Jump(target int) Outcome { return Outcome{kind: kindJump, target: target} }

// Stop halts the workflow; already-applied side effects stay applied.
func Stop(reason string) Outcome { return Outcome{kind: kindStop, reason: reason} }

// Pause suspends the workflow; state is retained and a later Execute
// call resumes from the current cursor.
func Pause(reason string) Outcome { return Outcome{kind: kindPause, reason: reason} }

func (o Outcome) String() string {
	switch o.kind {
	case kindJump:
		return fmt.Sprintf("jump(%d)", o.target)
	case kindStop:
		return "stop"
	case kindPause:
		return "pause"
	default:
		return "continue"
	}
}

// State is a workflow in flight. It stays valid across a pause: calling
// Execute again on a paused state resumes from Cursor.
type State struct {
	ID     string       `json:"id"`
	Intent types.Intent `json:"intent"`
	Steps  []Step       `json:"steps"`

	// Cursor is the index of the next step to run, always in
	// [0, len(Steps)].
	Cursor int    `json:"cursor"`
	Status Status `json:"status"`

	// Results is the ordered invocation log, one entry per executed step.
	Results []*types.InvocationResult `json:"results"`

	// Context is the shared mutable map every step reads and writes.
	Context map[string]interface{} `json:"context"`

	// StopReason holds the reason from the Stop or Pause directive that
	// last interrupted the run, if any.
	StopReason string `json:"stop_reason,omitempty"`
}

// Done reports whether the workflow can no longer make progress.
func (s *State) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusStopped
}

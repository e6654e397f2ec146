package workflow

import (
	"strings"

	"github.com/google/uuid"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// Well-known agent names the default plan table targets.
const (
	AgentScreenCapture = "ScreenCaptureAgent"
	AgentUserMemory    = "UserMemoryAgent"
	AgentCommand       = "CommandAgent"
	AgentScheduler     = "SchedulerAgent"
)

// capabilityAgents maps capability entity values onto specialist agents.
// Command utterances whose capabilities match fan out to one step per
// match, in utterance order; anything unmatched falls back to the
// general command agent.
var capabilityAgents = map[string]string{
	"screenshot": AgentScreenCapture,
	"screen":     AgentScreenCapture,
	"capture":    AgentScreenCapture,
	"reminder":   AgentScheduler,
	"remind":     AgentScheduler,
	"alarm":      AgentScheduler,
	"timer":      AgentScheduler,
}

// captureCapabilities are the capability values that require a fresh
// environment snapshot before the rest of the plan runs.
var captureCapabilities = map[string]bool{
	"screenshot": true,
	"screen":     true,
	"capture":    true,
	"window":     true,
	"display":    true,
}

// Build converts a routing decision into an executable workflow state.
// The plan comes from a fixed intent table; a decision whose intent maps
// to no agents yields an empty, already-completed state rather than an
// error.
func Build(decision *types.RoutingDecision, utterance string) *State {
	steps := planSteps(decision, utterance, decision.PrimaryIntent)

	// The near-tie promotion path runs both workflows: the promoted
	// primary first, then the original winner.
	if decision.SecondaryIntent != "" {
		steps = append(steps, planSteps(decision, utterance, decision.SecondaryIntent)...)
	}

	if needsEnvironmentCapture(decision) {
		steps = append([]Step{{
			Agent:  AgentScreenCapture,
			Params: map[string]interface{}{"action": "capture"},
		}}, steps...)
	}

	state := &State{
		ID:      uuid.NewString(),
		Intent:  decision.PrimaryIntent,
		Steps:   steps,
		Status:  StatusRunning,
		Context: map[string]interface{}{"utterance": utterance},
	}
	if len(steps) == 0 {
		// ResolutionError policy: no agents for this intent is a no-op
		// result, not a failure.
		state.Status = StatusCompleted
		logging.WorkflowDebug("no agents mapped for intent %s, empty plan", decision.PrimaryIntent)
	}
	return state
}

func planSteps(decision *types.RoutingDecision, utterance string, intent types.Intent) []Step {
	switch intent {
	case types.IntentMemoryStore:
		return []Step{{
			Agent: AgentUserMemory,
			Params: map[string]interface{}{
				"action": "store",
				"text":   utterance,
			},
		}}

	case types.IntentMemoryRetrieve:
		return []Step{{
			Agent: AgentUserMemory,
			Params: map[string]interface{}{
				"action": "retrieve",
				"query":  utterance,
			},
		}}

	case types.IntentCommand:
		return commandSteps(decision, utterance)

	default:
		// greeting and question are answered directly by the caller; no
		// agent plan exists for them.
		return nil
	}
}

// commandSteps fans a command out over its capability entities, one step
// per matched specialist, de-duplicated while preserving order.
func commandSteps(decision *types.RoutingDecision, utterance string) []Step {
	var steps []Step
	seen := make(map[string]bool)

	for _, cap := range decision.Entities[types.EntityCapability] {
		agent, ok := capabilityAgents[strings.ToLower(cap)]
		if !ok || seen[agent] {
			continue
		}
		seen[agent] = true
		steps = append(steps, Step{
			Agent: agent,
			Params: map[string]interface{}{
				"action":   "execute",
				"command":  utterance,
				"entities": decision.Entities,
			},
		})
	}

	if len(steps) == 0 {
		steps = append(steps, Step{
			Agent: AgentCommand,
			Params: map[string]interface{}{
				"action":   "execute",
				"command":  utterance,
				"entities": decision.Entities,
			},
		})
	}
	return steps
}

func needsEnvironmentCapture(decision *types.RoutingDecision) bool {
	if !decision.NeedsOrchestration {
		return false
	}
	for _, cap := range decision.Entities[types.EntityCapability] {
		if captureCapabilities[strings.ToLower(cap)] {
			return true
		}
	}
	return false
}

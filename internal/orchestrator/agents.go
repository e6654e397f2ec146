package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/agent"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/llm"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/workflow"
)

// contextOf recovers the invocation context the registry threads through
// the call map, so native agents honor cancellation.
func contextOf(callCtx map[string]interface{}) context.Context {
	if ctx, ok := callCtx["ctx"].(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// registerBuiltinAgents installs the native agents the default workflow
// plans target. Scripted capabilities registered through the catalog can
// shadow these by name after a Reload.
func (o *Orchestrator) registerBuiltinAgents() error {
	builtins := []*agent.Descriptor{
		o.userMemoryAgent(),
		o.commandAgent(),
		o.screenCaptureAgent(),
		o.schedulerAgent(),
	}
	for _, d := range builtins {
		if err := o.registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// userMemoryAgent persists and retrieves user facts through the memory
// store. store action expects "text"; retrieve expects "query".
func (o *Orchestrator) userMemoryAgent() *agent.Descriptor {
	return &agent.Descriptor{
		Name:          workflow.AgentUserMemory,
		Description:   "stores and retrieves user memories",
		RequiresStore: true,
		StoreKind:     "vector",
		Native: &agent.NativeBinding{
			Execute: func(params, callCtx map[string]interface{}) (interface{}, error) {
				if o.store == nil {
					return nil, fmt.Errorf("no memory store configured")
				}
				action, _ := params["action"].(string)
				sessionID, _ := callCtx["session_id"].(string)

				switch action {
				case "store":
					text, _ := params["text"].(string)
					if text == "" {
						return nil, fmt.Errorf("nothing to store")
					}
					err := o.store.StoreTurn(contextOf(callCtx), memory.Entry{
						Text:      text,
						SessionID: sessionID,
						Timestamp: time.Now().UTC(),
					})
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"response": "Got it, I'll remember that."}, nil

				case "retrieve":
					query, _ := params["query"].(string)
					entries, err := o.store.Search(contextOf(callCtx), query, memory.SearchOptions{
						SessionID:     sessionID,
						Limit:         o.cfg.Memory.SearchLimit,
						MinSimilarity: o.cfg.Memory.MinSimilarity,
					})
					if err != nil {
						return nil, err
					}
					if len(entries) == 0 {
						return map[string]interface{}{"response": "I don't have anything remembered about that."}, nil
					}
					var lines []string
					for _, e := range entries {
						lines = append(lines, e.Text)
					}
					return map[string]interface{}{
						"response": strings.Join(lines, "\n"),
						"count":    len(entries),
					}, nil
				}
				return nil, fmt.Errorf("unknown action %q", action)
			},
		},
	}
}

// commandAgent is the general fallback for commands no specialist
// claims: it asks the completion collaborator to describe the action it
// would take, which keeps the workflow observable without host access.
func (o *Orchestrator) commandAgent() *agent.Descriptor {
	return &agent.Descriptor{
		Name:        workflow.AgentCommand,
		Description: "general command handler",
		Native: &agent.NativeBinding{
			Execute: func(params, callCtx map[string]interface{}) (interface{}, error) {
				command, _ := params["command"].(string)
				prompt := fmt.Sprintf("The user asked: %q. Acknowledge the request and state the single concrete action you are taking, in one sentence.", command)
				text, err := o.llm.Complete(contextOf(callCtx), prompt, llm.CompleteOptions{
					Timeout:     o.cfg.GetLLMTimeout(),
					MaxTokens:   o.cfg.LLM.MaxTokens,
					Temperature: o.cfg.LLM.Temperature,
				})
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"response": text}, nil
			},
		},
	}
}

// screenCaptureAgent reports capture metadata; the actual pixel grab is
// delegated to whichever host integration registers a provider named
// "screen". Without one it degrades to a described capture.
func (o *Orchestrator) screenCaptureAgent() *agent.Descriptor {
	return &agent.Descriptor{
		Name:         workflow.AgentScreenCapture,
		Description:  "captures the current screen state",
		Dependencies: []string{"screen", "fs"},
		Native: &agent.NativeBinding{
			Execute: func(params, callCtx map[string]interface{}) (interface{}, error) {
				capture := map[string]interface{}{
					"captured_at": time.Now().UTC().Format(time.RFC3339),
				}
				deps, _ := callCtx["deps"].(map[string]interface{})
				grabber, ok := deps["screen"].(func() ([]byte, error))
				if !ok {
					capture["available"] = false
					capture["response"] = "Screen capture is not available on this host."
					return capture, nil
				}
				img, err := grabber()
				if err != nil {
					return nil, fmt.Errorf("screen capture failed: %w", err)
				}
				capture["available"] = true
				capture["bytes"] = len(img)
				capture["response"] = "Captured the current screen."
				return capture, nil
			},
		},
	}
}

// schedulerAgent records reminders as memories tagged with their
// datetime entities so retrieval surfaces them later.
func (o *Orchestrator) schedulerAgent() *agent.Descriptor {
	return &agent.Descriptor{
		Name:          workflow.AgentScheduler,
		Description:   "records reminders and scheduled intents",
		RequiresStore: true,
		Native: &agent.NativeBinding{
			Execute: func(params, callCtx map[string]interface{}) (interface{}, error) {
				if o.store == nil {
					return nil, fmt.Errorf("no memory store configured")
				}
				command, _ := params["command"].(string)
				sessionID, _ := callCtx["session_id"].(string)
				err := o.store.StoreTurn(contextOf(callCtx), memory.Entry{
					Text:      "reminder: " + command,
					SessionID: sessionID,
					Timestamp: time.Now().UTC(),
				})
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"response": "Reminder noted."}, nil
			},
		},
	}
}

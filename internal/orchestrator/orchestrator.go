// Package orchestrator is the front door: it normalizes incoming
// payloads, tries the memory-search fast path, classifies what remains,
// and drives the resulting workflow.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/agent"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/cascade"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/config"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/llm"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/router"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/workflow"
)

// fallbackMessage is what the user sees when every layer comes up empty.
// A raw error never escapes to the caller.
const fallbackMessage = "I'm not sure how to help with that yet."

// Response aggregates everything one Ask produced.
type Response struct {
	Success       bool                      `json:"success"`
	PrimaryIntent types.Intent              `json:"primary_intent,omitempty"`
	Response      string                    `json:"response,omitempty"`
	StepsExecuted int                       `json:"steps_executed"`
	Results       []*types.InvocationResult `json:"results,omitempty"`

	// Stage is set when the cascade fast path answered without routing.
	Stage string `json:"stage,omitempty"`
}

// Orchestrator owns the pipeline and its collaborators. Build one with
// New, call Initialize once, then Ask for each utterance.
type Orchestrator struct {
	cfg      *config.Config
	router   *router.Router
	registry *agent.Registry
	engine   *workflow.Engine
	cascade  *cascade.Cascade
	store    memory.Store
	llm      llm.Client

	initialized bool
}

// Deps are the collaborators the orchestrator drives. Store and Cascade
// may be nil; the pipeline degrades to routing without the fast path or
// persistence.
type Deps struct {
	Router   *router.Router
	Registry *agent.Registry
	Cascade  *cascade.Cascade
	Store    memory.Store
	LLM      llm.Client
}

// New wires an orchestrator. It is not usable until Initialize runs.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		router:   deps.Router,
		registry: deps.Registry,
		engine:   workflow.NewEngine(deps.Registry),
		cascade:  deps.Cascade,
		store:    deps.Store,
		llm:      deps.LLM,
	}
}

// Initialize registers the built-in agents and pre-warms the configured
// set. Prewarm failures are isolated per agent and never block startup.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if o.initialized {
		return nil
	}
	if o.router == nil || o.registry == nil || o.llm == nil {
		return fmt.Errorf("orchestrator missing required collaborators")
	}

	if err := o.registerBuiltinAgents(); err != nil {
		return fmt.Errorf("failed to register builtin agents: %w", err)
	}
	if err := o.registry.Prewarm(ctx, o.cfg.Agents.Prewarm); err != nil {
		return err
	}

	o.initialized = true
	logging.Get(logging.CategoryOrchestrator).Infow("orchestrator ready",
		"prewarmed", o.cfg.Agents.Prewarm)
	return nil
}

// Ask processes one incoming payload end to end. The only error it ever
// raises is misuse: calling before Initialize or handing it a payload no
// adapter understands. Everything downstream degrades into the response.
func (o *Orchestrator) Ask(ctx context.Context, payload interface{}) (*Response, error) {
	if !o.initialized {
		return nil, fmt.Errorf("orchestrator used before Initialize")
	}
	req, err := Normalize(payload)
	if err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp := o.answer(ctx, req)
	o.persistTurn(ctx, req, resp)
	return resp, nil
}

func (o *Orchestrator) answer(ctx context.Context, req *Request) *Response {
	// Fast path: a confident memory-grounded answer skips classification
	// entirely. Pre-classified requests honor the upstream decision.
	if o.cascade != nil && req.Intent == "" {
		if hit := o.cascade.Search(ctx, req.Text, req.Context, req.SessionID); hit != nil {
			return &Response{
				Success:  true,
				Response: hit.Response,
				Stage:    hit.Stage,
			}
		}
	}

	decision := o.decide(ctx, req)
	if decision == nil {
		// Abstention: nothing scored confidently enough to act on.
		return o.directAnswer(ctx, req, "")
	}

	switch decision.PrimaryIntent {
	case types.IntentGreeting:
		return &Response{
			Success:       true,
			PrimaryIntent: decision.PrimaryIntent,
			Response:      "Hey! What can I do for you?",
		}

	case types.IntentQuestion:
		resp := o.directAnswer(ctx, req, o.questionGrounding(ctx, req, decision))
		resp.PrimaryIntent = decision.PrimaryIntent
		return resp

	default:
		return o.runWorkflow(ctx, req, decision)
	}
}

// decide classifies the request, honoring a pre-classified intent.
func (o *Orchestrator) decide(ctx context.Context, req *Request) *types.RoutingDecision {
	if req.Intent != "" {
		return &types.RoutingDecision{
			ID:                 uuid.NewString(),
			PrimaryIntent:      req.Intent,
			Confidence:         1.0,
			Entities:           req.Entities,
			NeedsOrchestration: req.Intent != types.IntentGreeting,
			Reasoning:          "pre-classified by caller",
		}
	}
	return o.router.Route(ctx, types.Utterance{
		Text:      req.Text,
		Context:   req.Context,
		SessionID: req.SessionID,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) runWorkflow(ctx context.Context, req *Request, decision *types.RoutingDecision) *Response {
	state := workflow.Build(decision, req.Text)
	state.Context["session_id"] = req.SessionID

	state, err := o.engine.Execute(ctx, state)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warnw("workflow execution error",
			"intent", decision.PrimaryIntent, "error", err)
		return &Response{PrimaryIntent: decision.PrimaryIntent, Response: fallbackMessage}
	}

	resp := &Response{
		Success:       state.Status == workflow.StatusCompleted,
		PrimaryIntent: decision.PrimaryIntent,
		StepsExecuted: len(state.Results),
		Results:       state.Results,
	}
	resp.Response = summarizeResults(state)
	return resp
}

// questionGrounding pulls memory snippets for questions flagged as
// needing semantic search; empty when nothing relevant surfaces.
func (o *Orchestrator) questionGrounding(ctx context.Context, req *Request, decision *types.RoutingDecision) string {
	if o.store == nil || !decision.NeedsSemanticSearch {
		return ""
	}
	entries, err := o.store.Search(ctx, req.Text, memory.SearchOptions{
		SessionID:     req.SessionID,
		Limit:         o.cfg.Memory.SearchLimit,
		MinSimilarity: o.cfg.Memory.MinSimilarity,
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warnw("grounding search failed", "error", err)
		return ""
	}
	grounding := ""
	for _, e := range entries {
		grounding += "- " + e.Text + "\n"
	}
	return grounding
}

// directAnswer asks the completion collaborator, with the graceful
// fallback message when even that fails.
func (o *Orchestrator) directAnswer(ctx context.Context, req *Request, grounding string) *Response {
	prompt := req.Text
	if grounding != "" {
		prompt = fmt.Sprintf("Relevant notes:\n%s\nQuestion: %s\nAnswer briefly.", grounding, req.Text)
	}
	text, err := o.llm.Complete(ctx, prompt, llm.CompleteOptions{
		Timeout:     o.cfg.GetLLMTimeout(),
		MaxTokens:   o.cfg.LLM.MaxTokens,
		Temperature: o.cfg.LLM.Temperature,
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warnw("direct answer failed", "error", err)
		return &Response{Response: fallbackMessage}
	}
	return &Response{Success: true, Response: text}
}

// persistTurn records the exchange for future retrieval. Best effort:
// persistence failure never alters the answer.
func (o *Orchestrator) persistTurn(ctx context.Context, req *Request, resp *Response) {
	if o.store == nil || !resp.Success {
		return
	}
	entry := memory.Entry{
		Text:      fmt.Sprintf("user: %s\nassistant: %s", req.Text, resp.Response),
		SessionID: req.SessionID,
		Timestamp: time.Now().UTC(),
	}
	if err := o.store.StoreTurn(ctx, entry); err != nil {
		logging.Get(logging.CategoryOrchestrator).Warnw("failed to persist turn", "error", err)
	}
}

// summarizeResults picks the user-facing text out of a finished workflow.
func summarizeResults(state *workflow.State) string {
	if state.Status == workflow.StatusFailed {
		return fallbackMessage
	}
	// Last successful step with a string payload wins.
	for i := len(state.Results) - 1; i >= 0; i-- {
		r := state.Results[i]
		if !r.Success {
			continue
		}
		if s, ok := r.Result.(string); ok && s != "" {
			return s
		}
		if m, ok := r.Result.(map[string]interface{}); ok {
			if s, ok := m["response"].(string); ok && s != "" {
				return s
			}
		}
	}
	if state.Status == workflow.StatusCompleted {
		return "Done."
	}
	return fallbackMessage
}

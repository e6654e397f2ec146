// Package cascade implements the staged memory-search fast path that
// runs before full intent classification. Each stage widens the search
// scope and raises the similarity bar: recent conversation, then the
// active session's memories, then everything.
package cascade

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/config"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/embedding"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/llm"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/memory"
)

// Stage names, in escalation order.
const (
	StageCurrent = "current"
	StageSession = "session"
	StageCross   = "cross-session"
)

// Result is a successful cascade answer. A nil *Result from Search means
// no stage produced one and the caller falls through to the router.
type Result struct {
	Response   string  `json:"response"`
	Stage      string  `json:"stage"`
	Similarity float64 `json:"similarity"`
}

// Cascade wires the three stages over the shared collaborators.
type Cascade struct {
	cfg       config.CascadeConfig
	engine    embedding.Engine
	store     memory.Store
	completer llm.Client

	completionTimeout llm.CompleteOptions
}

// New builds a cascade. The completion timeout and prompt bounds come
// from the cascade section of the runtime config.
func New(cfg *config.Config, engine embedding.Engine, store memory.Store, completer llm.Client) *Cascade {
	return &Cascade{
		cfg:       cfg.Cascade,
		engine:    engine,
		store:     store,
		completer: completer,
		completionTimeout: llm.CompleteOptions{
			Timeout:     cfg.GetCompletionTimeout(),
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		},
	}
}

// Search runs the cascade for one query. conversation is the recent
// context string (newest last, possibly empty); sessionID scopes stage
// two. Returns nil when no stage succeeds; never returns an error — any
// stage failure is logged and the cascade moves on.
func (c *Cascade) Search(ctx context.Context, query, conversation, sessionID string) *Result {
	crossNature := looksCrossSession(query)

	var best *Result
	keep := func(r *Result) bool {
		if r == nil {
			return false
		}
		best = r
		// Non-cross-session queries return on the first success;
		// cross-session queries keep escalating and prefer the widest
		// stage that succeeds.
		return !crossNature
	}

	if r, err := c.stageCurrent(ctx, query, conversation); err != nil {
		logging.CascadeWarn("stage %s failed: %v", StageCurrent, err)
	} else if keep(r) {
		return best
	}

	if r, err := c.stageSearch(ctx, StageSession, query, sessionID, c.cfg.SessionThreshold); err != nil {
		logging.CascadeWarn("stage %s failed: %v", StageSession, err)
	} else if keep(r) {
		return best
	}

	if r, err := c.stageSearch(ctx, StageCross, query, "", c.cfg.CrossThreshold); err != nil {
		logging.CascadeWarn("stage %s failed: %v", StageCross, err)
	} else if r != nil {
		best = r
	}

	if best != nil {
		logging.Cascade("answered %q at stage %s (similarity %.2f)", query, best.Stage, best.Similarity)
	}
	return best
}

// stageCurrent grounds the answer in the recent conversation window. The
// query and a trimmed context sample are embedded in parallel; a modest
// similarity bar is enough because recency already argues relevance.
func (c *Cascade) stageCurrent(ctx context.Context, query, conversation string) (*Result, error) {
	if len(conversation) < c.cfg.MinContextChars {
		return nil, nil
	}
	sample := headTailSample(conversation, c.cfg.MaxPromptChars/2)

	var queryVec, sampleVec []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.engine.Embed(gctx, query)
		queryVec = v
		return err
	})
	g.Go(func() error {
		v, err := c.engine.Embed(gctx, sample)
		sampleVec = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to embed query and context: %w", err)
	}

	sim, err := embedding.CosineSimilarity(queryVec, sampleVec)
	if err != nil {
		return nil, err
	}
	if sim < c.cfg.CurrentThreshold {
		logging.CascadeDebug("stage %s below threshold: %.3f < %.3f", StageCurrent, sim, c.cfg.CurrentThreshold)
		return nil, nil
	}

	prompt := fmt.Sprintf(
		"Answer briefly using only this recent conversation.\n\nConversation:\n%s\n\nQuestion: %s\nAnswer:",
		sample, query)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Result{Response: text, Stage: StageCurrent, Similarity: sim}, nil
}

// stageSearch is the shared mechanics of the session and cross-session
// stages: vector search (scoped or not), gate on top-or-blended
// similarity, then a bounded grounded completion.
func (c *Cascade) stageSearch(ctx context.Context, stage, query, sessionID string, threshold float64) (*Result, error) {
	entries, err := c.store.Search(ctx, query, memory.SearchOptions{
		SessionID: sessionID,
		Limit:     c.cfg.MaxSnippetsPerStage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	sims := make([]float64, len(entries))
	for i, e := range entries {
		sims[i] = e.Similarity
	}
	top := sims[0]
	blended := embedding.BlendTopSimilarities(sims)
	score := top
	if blended > score {
		score = blended
	}
	if score < threshold {
		logging.CascadeDebug("stage %s below threshold: %.3f < %.3f", stage, score, threshold)
		return nil, nil
	}

	prompt := c.buildPrompt(query, entries)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Result{Response: text, Stage: stage, Similarity: score}, nil
}

// buildPrompt assembles the snippet prompt, truncating to the configured
// character bound so a pathological memory row cannot blow the context.
func (c *Cascade) buildPrompt(query string, entries []memory.Entry) string {
	var b strings.Builder
	b.WriteString("Answer briefly using only these remembered notes.\n\nNotes:\n")
	for _, e := range entries {
		line := "- " + e.Text + "\n"
		if b.Len()+len(line) > c.cfg.MaxPromptChars {
			break
		}
		b.WriteString(line)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}

func (c *Cascade) complete(ctx context.Context, prompt string) (string, error) {
	text, err := c.completer.Complete(ctx, prompt, c.completionTimeout)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("completion returned empty text")
	}
	return text, nil
}

// headTailSample keeps the opening and the newest tail of a long context
// string; the middle is the least informative part of a conversation.
func headTailSample(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	head := maxChars / 3
	tail := maxChars - head
	return s[:head] + "\n...\n" + s[len(s)-tail:]
}

// crossSessionCues are the lexical hints that a query reaches beyond the
// current conversation: references to other days, "last time", etc.
var crossSessionCues = []string{
	"last time", "last week", "last month", "yesterday", "the other day",
	"previously", "before", "earlier session", "a while ago", "past",
	"ever", "always", "usually", "history",
}

// looksCrossSession is the lexical classifier driving the escalation
// policy.
func looksCrossSession(query string) bool {
	q := strings.ToLower(query)
	for _, cue := range crossSessionCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}

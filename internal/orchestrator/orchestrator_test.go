package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/agent"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/config"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/llm"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/router"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string, _ llm.CompleteOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

type fakeStore struct {
	turns   []memory.Entry
	entries []memory.Entry
}

func (f *fakeStore) Search(context.Context, string, memory.SearchOptions) ([]memory.Entry, error) {
	return f.entries, nil
}

func (f *fakeStore) StoreTurn(_ context.Context, e memory.Entry) error {
	f.turns = append(f.turns, e)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func newTestOrchestrator(t *testing.T, client llm.Client, store memory.Store) *Orchestrator {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agents.Prewarm = nil

	registry := agent.NewRegistry(agent.Options{})
	t.Cleanup(func() { registry.Close() })

	o := New(cfg, Deps{
		Router:   router.New(router.DefaultConfig(), nil, nil),
		Registry: registry,
		Store:    store,
		LLM:      client,
	})
	require.NoError(t, o.Initialize(context.Background()))
	return o
}

func TestAskBeforeInitializeIsAnError(t *testing.T) {
	o := New(config.DefaultConfig(), Deps{})
	_, err := o.Ask(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before Initialize")
}

func TestAskGreeting(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, &fakeStore{})

	resp, err := o.Ask(context.Background(), "hey there")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, types.IntentGreeting, resp.PrimaryIntent)
	assert.NotEmpty(t, resp.Response)
	assert.Zero(t, resp.StepsExecuted, "greetings run no workflow")
}

func TestAskQuestionGoesToCompletion(t *testing.T) {
	client := &fakeLLM{response: "It is noon."}
	o := newTestOrchestrator(t, client, &fakeStore{})

	resp, err := o.Ask(context.Background(), "what time is my meeting tomorrow?")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, types.IntentQuestion, resp.PrimaryIntent)
	assert.Equal(t, "It is noon.", resp.Response)
	require.Len(t, client.prompts, 1)
}

func TestAskRetrievalRunsMemoryWorkflow(t *testing.T) {
	client := &fakeLLM{}
	store := &fakeStore{entries: []memory.Entry{{Text: "meeting with Anna at 3pm", Similarity: 0.9}}}
	o := newTestOrchestrator(t, client, store)

	resp, err := o.Ask(context.Background(), "when did I say the meeting was?")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, types.IntentMemoryRetrieve, resp.PrimaryIntent)
	assert.Equal(t, 1, resp.StepsExecuted)
	assert.Contains(t, resp.Response, "meeting with Anna at 3pm")
	assert.Empty(t, client.prompts, "retrieval answers come from memory, not the completion model")
}

func TestAskPreClassifiedStoreRunsWorkflow(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, &fakeLLM{}, store)

	resp, err := o.Ask(context.Background(), map[string]interface{}{
		"text":       "the wifi password is hunter2",
		"intent":     "memory_store",
		"session_id": "s1",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, types.IntentMemoryStore, resp.PrimaryIntent)
	assert.Equal(t, 1, resp.StepsExecuted)
	assert.Equal(t, "Got it, I'll remember that.", resp.Response)

	// The fact itself plus the conversational turn both persist.
	require.NotEmpty(t, store.turns)
	assert.Equal(t, "the wifi password is hunter2", store.turns[0].Text)
	assert.Equal(t, "s1", store.turns[0].SessionID)
}

func TestAskNestedEnvelope(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{}, &fakeStore{})

	resp, err := o.Ask(context.Background(), map[string]interface{}{
		"message": map[string]interface{}{"text": "hey there"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.IntentGreeting, resp.PrimaryIntent)
}

func TestAskAbstentionFallsBackToCompletion(t *testing.T) {
	client := &fakeLLM{response: "Sorry, could you rephrase?"}
	o := newTestOrchestrator(t, client, &fakeStore{})

	// Gibberish abstains in the router and lands on the direct answer.
	resp, err := o.Ask(context.Background(), "xk qq zzwp")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, could you rephrase?", resp.Response)
	assert.Empty(t, resp.PrimaryIntent)
}

func TestAskCompletionFailureIsGraceful(t *testing.T) {
	client := &fakeLLM{err: assert.AnError}
	o := newTestOrchestrator(t, client, &fakeStore{})

	resp, err := o.Ask(context.Background(), "xk qq zzwp")
	require.NoError(t, err, "downstream failures never raise")
	assert.False(t, resp.Success)
	assert.Equal(t, fallbackMessage, resp.Response)
}

func TestSuccessfulTurnIsPersisted(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, &fakeLLM{}, store)

	_, err := o.Ask(context.Background(), "hey there")
	require.NoError(t, err)
	require.Len(t, store.turns, 1)
	assert.Contains(t, store.turns[0].Text, "user: hey there")
	assert.NotEmpty(t, store.turns[0].SessionID, "a session id is assigned when the caller omits one")
	assert.Zero(t, store.turns[0].ID, "row ids are assigned by the store, not the caller")
}

func TestNormalize(t *testing.T) {
	t.Run("raw string", func(t *testing.T) {
		req, err := Normalize("  hello  ")
		require.NoError(t, err)
		assert.Equal(t, "hello", req.Text)
		assert.Empty(t, req.Intent)
	})

	t.Run("pre-classified object", func(t *testing.T) {
		req, err := Normalize(map[string]interface{}{
			"text":   "take a screenshot",
			"intent": "command",
			"entities": map[string]interface{}{
				"capability": []interface{}{"screenshot"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, types.IntentCommand, req.Intent)
		assert.Equal(t, []string{"screenshot"}, req.Entities[types.EntityCapability])
	})

	t.Run("nested envelope two levels deep", func(t *testing.T) {
		req, err := Normalize(map[string]interface{}{
			"payload": map[string]interface{}{
				"message": map[string]interface{}{
					"query":     "where did I park",
					"sessionId": "s9",
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "where did I park", req.Text)
		assert.Equal(t, "s9", req.SessionID)
	})

	t.Run("unknown intent rejected", func(t *testing.T) {
		_, err := Normalize(map[string]interface{}{"text": "x", "intent": "telepathy"})
		assert.Error(t, err)
	})

	t.Run("empty text rejected", func(t *testing.T) {
		_, err := Normalize("   ")
		assert.Error(t, err)
	})

	t.Run("unsupported type rejected", func(t *testing.T) {
		_, err := Normalize(42)
		assert.Error(t, err)
	})
}

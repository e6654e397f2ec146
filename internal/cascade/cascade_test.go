package cascade

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/config"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/llm"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/memory"
)

// fakeEngine returns a fixed vector per exact text and a default
// orthogonal vector otherwise, so similarity outcomes are scripted.
type fakeEngine struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }

// fakeStore records search calls and serves scripted entries per scope.
type fakeStore struct {
	bySession map[string][]memory.Entry // "" key = unscoped
	searches  []memory.SearchOptions
	err       error
}

func (f *fakeStore) Search(_ context.Context, _ string, opts memory.SearchOptions) ([]memory.Entry, error) {
	f.searches = append(f.searches, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.bySession[opts.SessionID], nil
}

func (f *fakeStore) StoreTurn(context.Context, memory.Entry) error { return nil }
func (f *fakeStore) Close() error                                  { return nil }

type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) Complete(context.Context, string, llm.CompleteOptions) (string, error) {
	f.calls++
	return f.response, f.err
}

func testCascade(engine *fakeEngine, store *fakeStore, client *fakeClient) *Cascade {
	return New(config.DefaultConfig(), engine, store, client)
}

func TestStageCurrentShortCircuits(t *testing.T) {
	conversation := "user: I parked the car on level 3 near the elevator this morning"
	require.GreaterOrEqual(t, len(conversation), 40)

	engine := &fakeEngine{vectors: map[string][]float32{
		"where did I park":  {1, 0, 0},
		conversation:        {1, 0, 0}, // identical vector: similarity 1.0
	}}
	store := &fakeStore{}
	client := &fakeClient{response: "Level 3, near the elevator."}

	res := testCascade(engine, store, client).Search(context.Background(), "where did I park", conversation, "s1")

	require.NotNil(t, res)
	assert.Equal(t, StageCurrent, res.Stage)
	assert.Equal(t, "Level 3, near the elevator.", res.Response)
	assert.InDelta(t, 1.0, res.Similarity, 1e-6)
	assert.Empty(t, store.searches, "a stage-one hit must never reach the memory store")
	assert.Equal(t, 1, client.calls)
}

func TestShortContextSkipsToSessionStage(t *testing.T) {
	conversation := "user: hi there, morning" // under the 40-char minimum
	require.Less(t, len(conversation), 40)

	store := &fakeStore{bySession: map[string][]memory.Entry{
		"s1": {{Text: "parked on level 3", Similarity: 0.62}},
	}}
	client := &fakeClient{response: "Level 3."}

	res := testCascade(&fakeEngine{}, store, client).Search(context.Background(), "where did I park", conversation, "s1")

	require.NotNil(t, res)
	assert.Equal(t, StageSession, res.Stage)
	require.Len(t, store.searches, 1)
	assert.Equal(t, "s1", store.searches[0].SessionID)
}

func TestAllStagesMissReturnsNil(t *testing.T) {
	store := &fakeStore{}
	client := &fakeClient{response: "should never be asked"}

	conversation := "short chat context here." // 24 chars, under the stage-one floor
	require.Less(t, len(conversation), 40)

	res := testCascade(&fakeEngine{}, store, client).Search(context.Background(),
		"What did we discuss about the React project?", conversation, "s1")

	assert.Nil(t, res)
	assert.Equal(t, 0, client.calls)
	// Session then cross-session were both consulted before giving up.
	require.Len(t, store.searches, 2)
	assert.Equal(t, "s1", store.searches[0].SessionID)
	assert.Equal(t, "", store.searches[1].SessionID)
}

func TestSessionThresholdGate(t *testing.T) {
	store := &fakeStore{bySession: map[string][]memory.Entry{
		"s1": {{Text: "weak match", Similarity: 0.20}}, // below 0.35 gate
	}}
	client := &fakeClient{response: "nope"}

	res := testCascade(&fakeEngine{}, store, client).Search(context.Background(), "what did I say", "", "s1")

	assert.Nil(t, res)
	assert.Equal(t, 0, client.calls)
}

func TestCrossSessionQueryPrefersWidestStage(t *testing.T) {
	store := &fakeStore{bySession: map[string][]memory.Entry{
		"s1": {{Text: "session note", Similarity: 0.80}},
		"":   {{Text: "old note from another day", Similarity: 0.75}},
	}}
	client := &fakeClient{response: "grounded answer"}

	// "last week" trips the lexical cross-session classifier.
	res := testCascade(&fakeEngine{}, store, client).Search(context.Background(), "where did I park last week", "", "s1")

	require.NotNil(t, res)
	assert.Equal(t, StageCross, res.Stage, "cross-nature queries prefer the widest successful stage")
	assert.Equal(t, 2, client.calls, "both stages completed before the widest won")
}

func TestCrossSessionQueryFallsBackToEarlierSuccess(t *testing.T) {
	store := &fakeStore{bySession: map[string][]memory.Entry{
		"s1": {{Text: "session note", Similarity: 0.80}},
		"":   {{Text: "weak old note", Similarity: 0.10}}, // cross stage gated out
	}}
	client := &fakeClient{response: "from session"}

	res := testCascade(&fakeEngine{}, store, client).Search(context.Background(), "what did I do last week", "", "s1")

	require.NotNil(t, res)
	assert.Equal(t, StageSession, res.Stage)
}

func TestStageFailureIsIsolated(t *testing.T) {
	conversation := strings.Repeat("user: something relevant happened here. ", 3)
	engine := &fakeEngine{err: assert.AnError} // stage one cannot embed
	store := &fakeStore{bySession: map[string][]memory.Entry{
		"s1": {{Text: "parked on level 3", Similarity: 0.70}},
	}}
	client := &fakeClient{response: "Level 3."}

	res := testCascade(engine, store, client).Search(context.Background(), "where did I park", conversation, "s1")

	require.NotNil(t, res, "an embedding failure in stage one must not kill the cascade")
	assert.Equal(t, StageSession, res.Stage)
}

func TestCompletionFailureAdvancesStage(t *testing.T) {
	store := &fakeStore{bySession: map[string][]memory.Entry{
		"s1": {{Text: "note", Similarity: 0.90}},
		"":   {{Text: "note", Similarity: 0.90}},
	}}
	client := &fakeClient{err: assert.AnError}

	res := testCascade(&fakeEngine{}, store, client).Search(context.Background(), "what was the note", "", "s1")
	assert.Nil(t, res, "when every stage's completion fails the cascade yields nothing")
}

func TestLooksCrossSession(t *testing.T) {
	assert.True(t, looksCrossSession("what did we discuss last week"))
	assert.True(t, looksCrossSession("have I ever mentioned this"))
	assert.False(t, looksCrossSession("what time is my meeting"))
}

func TestHeadTailSample(t *testing.T) {
	long := strings.Repeat("a", 100) + strings.Repeat("z", 100)
	sample := headTailSample(long, 60)
	assert.LessOrEqual(t, len(sample), 60+len("\n...\n"))
	assert.True(t, strings.HasPrefix(sample, "a"))
	assert.True(t, strings.HasSuffix(sample, "z"))

	short := "short"
	assert.Equal(t, short, headTailSample(short, 60))
}

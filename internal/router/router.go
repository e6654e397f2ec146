// Package router implements the entity-aware intent router. It scores five
// intents from lexical signals, extracted entities, and a semantic boost,
// and abstains rather than guess: a nil decision sends the caller to the
// full classification path.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/embedding"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// Config holds the abstention gates and tie-break window.
type Config struct {
	ConfidenceFloor      float64 // minimum winning score
	ShortConfidenceFloor float64 // stricter floor for very short utterances
	ShortTokenLimit      int     // "very short" boundary, in tokens
	MinMargin            float64 // minimum gap to the runner-up
	StoreTieDelta        float64 // memory_store promotion window

	SemanticBoostFloor  float64 // similarity below this contributes nothing
	SemanticBoostWeight float64 // scales the blended similarity into a score term
}

// DefaultConfig returns the tuned production gates.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor:      0.25,
		ShortConfidenceFloor: 0.40,
		ShortTokenLimit:      3,
		MinMargin:            0.05,
		StoreTieDelta:        0.10,
		SemanticBoostFloor:   0.45,
		SemanticBoostWeight:  0.30,
	}
}

// canonicalStoreSentences is the curated sample of storage-intent phrasings
// the semantic boost compares against.
var canonicalStoreSentences = []string{
	"remember that I have a dentist appointment tomorrow",
	"please note that my anniversary is in June",
	"save this for later, I park on level 3",
	"keep in mind that Sarah prefers tea over coffee",
	"remind me to pick up the dry cleaning on Friday",
	"don't forget my flight leaves at 6am",
	"make a note that the wifi password changed",
	"remember my favorite restaurant is the one on Main Street",
}

// intentFlags is the fixed intent→flag table attached to every decision.
var intentFlags = map[types.Intent]struct{ orchestration, semantic bool }{
	types.IntentGreeting:       {false, false},
	types.IntentCommand:        {true, false},
	types.IntentMemoryStore:    {true, false},
	types.IntentMemoryRetrieve: {true, true},
	types.IntentQuestion:       {false, true},
}

// Router produces routing decisions. Both collaborators are optional; with
// neither, routing is lexical-only.
type Router struct {
	cfg       Config
	extractor EntityExtractor
	engine    embedding.Engine

	canonOnce sync.Once
	canonVecs [][]float32
}

// New creates a Router. extractor and engine may be nil.
func New(cfg Config, extractor EntityExtractor, engine embedding.Engine) *Router {
	return &Router{cfg: cfg, extractor: extractor, engine: engine}
}

// Route scores the utterance and returns a decision, or nil to abstain.
// It never returns an error: collaborator failures degrade to lexical-only
// scoring, and the worst case is abstention.
func (r *Router) Route(ctx context.Context, utt types.Utterance) *types.RoutingDecision {
	log := logging.Get(logging.CategoryRouting)

	sig := ExtractSignals(utt.Text)
	if sig.TokenCount == 0 {
		return nil
	}

	entities := r.extractEntities(ctx, utt.Text)
	boost := r.semanticStoreBoost(ctx, utt.Text)

	scores := scoreIntents(sig, entities, boost)
	best, bestScore, _, secondScore := rankScores(scores)
	margin := bestScore - secondScore

	// Abstention gates: a floor that tightens for very short utterances,
	// and a minimum margin over the runner-up.
	floor := r.cfg.ConfidenceFloor
	if sig.TokenCount <= r.cfg.ShortTokenLimit {
		floor = r.cfg.ShortConfidenceFloor
	}
	if bestScore < floor {
		log.Debugf("abstain: top score %.2f below floor %.2f (%s)", bestScore, floor, describeScores(scores))
		return nil
	}
	if margin < r.cfg.MinMargin {
		log.Debugf("abstain: margin %.2f below minimum %.2f (%s)", margin, r.cfg.MinMargin, describeScores(scores))
		return nil
	}

	decision := &types.RoutingDecision{
		ID:            uuid.NewString(),
		PrimaryIntent: best,
		Confidence:    bestScore,
		Margin:        margin,
		Entities:      entities,
		Reasoning:     fmt.Sprintf("%s; margin=%.2f boost=%.2f", describeScores(scores), margin, boost),
	}

	// memory_store near-tie promotion: storing and then running the original
	// winner's workflow are both safe, so prefer not to lose the memory.
	// Scores accumulate as float sums, so the delta comparison needs slack
	// or an exact tie at the threshold fails on representation error.
	storeScore := scores[types.IntentMemoryStore]
	if best != types.IntentMemoryStore &&
		storeScore >= r.cfg.ConfidenceFloor &&
		bestScore-storeScore <= r.cfg.StoreTieDelta+scoreEpsilon {
		decision.SecondaryIntent = best
		decision.PrimaryIntent = types.IntentMemoryStore
		decision.Confidence = storeScore
		log.Debugf("promoted memory_store over %s (delta=%.2f)", best, bestScore-storeScore)
	}

	flags := intentFlags[decision.PrimaryIntent]
	decision.NeedsOrchestration = flags.orchestration
	decision.NeedsSemanticSearch = flags.semantic

	log.Infof("routed %q -> %s (confidence=%.2f margin=%.2f)", utt.Text, decision.PrimaryIntent, decision.Confidence, decision.Margin)
	return decision
}

// extractEntities merges the NER pass with the lexicon pass; a failing NER
// collaborator degrades to lexicon-only.
func (r *Router) extractEntities(ctx context.Context, text string) map[types.EntityType][]string {
	lexicon := extractLexiconEntities(text)

	if r.extractor == nil {
		return lexicon
	}
	primary, err := r.extractor.ExtractEntities(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryRouting).Warnf("entity extraction failed, degrading to lexicon pass: %v", err)
		return lexicon
	}
	return mergeEntities(primary, lexicon)
}

// semanticStoreBoost embeds the utterance and compares it against the
// canonical storage-intent sentences, blending max (0.7) with the mean of
// the top three (0.3). Returns 0 on any failure or below the floor.
func (r *Router) semanticStoreBoost(ctx context.Context, text string) float64 {
	if r.engine == nil {
		return 0
	}

	r.canonOnce.Do(func() {
		vecs, err := r.engine.EmbedBatch(ctx, canonicalStoreSentences)
		if err != nil {
			logging.Get(logging.CategoryRouting).Warnf("failed to embed canonical store sentences: %v", err)
			return
		}
		r.canonVecs = vecs
	})
	if len(r.canonVecs) == 0 {
		return 0
	}

	queryVec, err := r.engine.Embed(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryRouting).Warnf("utterance embedding failed, lexical-only scoring: %v", err)
		return 0
	}

	sims := make([]float64, 0, len(r.canonVecs))
	for _, vec := range r.canonVecs {
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		sims = append(sims, sim)
	}

	blended := embedding.BlendTopSimilarities(sims)
	if blended < r.cfg.SemanticBoostFloor {
		return 0
	}
	return blended * r.cfg.SemanticBoostWeight
}

package router

import (
	"fmt"
	"strings"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// Base weights and corrective terms for the additive intent scorer. The
// values are tuned against the routing corpus; change them together, not
// individually.
const (
	wGreetingShort = 0.85
	wGreetingLong  = 0.50

	wImperative       = 0.55
	wModalRequest     = 0.50
	wCapabilityEntity = 0.15

	wStorageVerb     = 0.60
	wPersonalContext = 0.15
	wStoreEntity     = 0.15
	wAbilityBoost    = 0.20

	wRetrievalCue    = 0.60
	wWHPlusPast      = 0.25
	wRetrieveQMark   = 0.10
	wRetrievePerson  = 0.05

	wWHWord        = 0.40
	wQuestionMark  = 0.25

	penNegatedAction  = 0.35
	penStoreNegation  = 0.40
	penSpeculative    = 0.15
	penAbilityCommand = 0.25
	penRetrievalOnQ   = 0.25
	penModalOnQ       = 0.20
	penGreetingOnQ    = 0.20

	// scoreEpsilon absorbs float error in accumulated scores when
	// comparing against a configured threshold.
	scoreEpsilon = 1e-9
)

// scoreIntents computes the additive score for each of the five intents.
// semanticStoreBoost is the embedding-derived memory_store boost, already
// gated and weighted (0 when unavailable).
func scoreIntents(sig Signals, entities map[types.EntityType][]string, semanticStoreBoost float64) map[types.Intent]float64 {
	scores := make(map[types.Intent]float64, len(types.AllIntents))

	// greeting
	var greeting float64
	if sig.HasGreeting {
		if sig.TokenCount <= 4 {
			greeting = wGreetingShort
		} else {
			greeting = wGreetingLong
		}
	}
	scores[types.IntentGreeting] = greeting

	// command
	var command float64
	if sig.HasImperative {
		command += wImperative
	}
	if sig.HasModalRequest {
		command += wModalRequest
	}
	if len(entities[types.EntityCapability]) > 0 {
		command += wCapabilityEntity
	}
	if sig.HasNegatedAction {
		command -= penNegatedAction
	}
	if sig.HasSpeculative {
		command -= penSpeculative
	}
	if sig.HasAbilityStatement {
		command -= penAbilityCommand
	}
	scores[types.IntentCommand] = command

	// memory_store
	var store float64
	if sig.HasStorageVerb {
		store += wStorageVerb
	}
	if sig.HasFirstPerson && (sig.HasFutureCue || sig.HasPastCue) {
		store += wPersonalContext
	}
	if len(entities[types.EntityDatetime]) > 0 || len(entities[types.EntityPerson]) > 0 || len(entities[types.EntityEvent]) > 0 {
		store += wStoreEntity
	}
	if sig.HasAbilityStatement {
		// "I can play piano" is a fact about the user worth keeping.
		store += wAbilityBoost
	}
	if sig.HasNegatedAction {
		store -= penStoreNegation
	}
	if sig.HasSpeculative {
		store -= penSpeculative
	}
	store += semanticStoreBoost
	scores[types.IntentMemoryStore] = store

	// memory_retrieve
	var retrieve float64
	if sig.HasRetrievalCue {
		retrieve += wRetrievalCue
	}
	if sig.HasWHWord && sig.HasPastCue {
		retrieve += wWHPlusPast
	}
	if sig.HasQuestionMark {
		retrieve += wRetrieveQMark
	}
	if sig.HasFirstPerson {
		retrieve += wRetrievePerson
	}
	scores[types.IntentMemoryRetrieve] = retrieve

	// question
	var question float64
	if sig.HasWHWord {
		question += wWHWord
	}
	if sig.HasQuestionMark {
		question += wQuestionMark
	}
	if sig.HasRetrievalCue {
		question -= penRetrievalOnQ
	}
	if sig.HasModalRequest {
		question -= penModalOnQ
	}
	if sig.HasGreeting {
		question -= penGreetingOnQ
	}
	scores[types.IntentQuestion] = question

	// Scores stay finite and within [0,1] no matter which terms fired.
	for intent, s := range scores {
		scores[intent] = clamp01(s)
	}
	return scores
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// rankScores returns the winning and runner-up intents in AllIntents order
// for deterministic ties.
func rankScores(scores map[types.Intent]float64) (best types.Intent, bestScore float64, second types.Intent, secondScore float64) {
	for _, intent := range types.AllIntents {
		s := scores[intent]
		if best == "" || s > bestScore {
			second, secondScore = best, bestScore
			best, bestScore = intent, s
		} else if second == "" || s > secondScore {
			second, secondScore = intent, s
		}
	}
	return best, bestScore, second, secondScore
}

func describeScores(scores map[types.Intent]float64) string {
	parts := make([]string, 0, len(scores))
	for _, intent := range types.AllIntents {
		parts = append(parts, fmt.Sprintf("%s=%.2f", intent, scores[intent]))
	}
	return strings.Join(parts, " ")
}

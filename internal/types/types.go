// Package types holds the shared data model for the ThinkDrop orchestration
// core: utterances, routing decisions, and the uniform invocation result that
// every capability call is wrapped into.
package types

import "time"

// Intent is the coarse category of what an utterance requests.
type Intent string

const (
	IntentGreeting       Intent = "greeting"
	IntentCommand        Intent = "command"
	IntentMemoryStore    Intent = "memory_store"
	IntentMemoryRetrieve Intent = "memory_retrieve"
	IntentQuestion       Intent = "question"
)

// AllIntents lists every intent the router scores, in a fixed order so that
// tie-breaking is deterministic.
var AllIntents = []Intent{
	IntentGreeting,
	IntentCommand,
	IntentMemoryStore,
	IntentMemoryRetrieve,
	IntentQuestion,
}

// Valid reports whether the intent is one of the five routable categories.
func (i Intent) Valid() bool {
	switch i {
	case IntentGreeting, IntentCommand, IntentMemoryStore, IntentMemoryRetrieve, IntentQuestion:
		return true
	}
	return false
}

// EntityType is a typed bucket for extracted entities.
type EntityType string

const (
	EntityDatetime   EntityType = "datetime"
	EntityPerson     EntityType = "person"
	EntityLocation   EntityType = "location"
	EntityEvent      EntityType = "event"
	EntityItems      EntityType = "items"
	EntityCapability EntityType = "capability"
)

// Utterance is one unit of user input entering the pipeline.
type Utterance struct {
	Text      string    `json:"text"`
	Context   string    `json:"context,omitempty"` // recent conversation, newest last
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RoutingDecision is the router's verdict for one utterance. It is immutable
// once produced; the workflow layer only reads it.
type RoutingDecision struct {
	ID            string `json:"id"`
	PrimaryIntent Intent `json:"primary_intent"`

	// Confidence is the winning score clamped to [0,1]. Margin is the gap to
	// the runner-up; both gate abstention before a decision is ever emitted.
	Confidence float64 `json:"confidence"`
	Margin     float64 `json:"margin"`

	Entities map[EntityType][]string `json:"entities,omitempty"`

	NeedsOrchestration  bool `json:"needs_orchestration"`
	NeedsSemanticSearch bool `json:"needs_semantic_search"`

	// SecondaryIntent is set when the memory_store near-tie promotion fired:
	// the original winner still gets its workflow appended after the store.
	SecondaryIntent Intent `json:"secondary_intent,omitempty"`

	Reasoning string `json:"reasoning,omitempty"`
}

// HasEntities reports whether any entity bucket is non-empty.
func (d *RoutingDecision) HasEntities() bool {
	for _, vals := range d.Entities {
		if len(vals) > 0 {
			return true
		}
	}
	return false
}

// InvocationResult is the uniform wrapper for every capability invocation,
// success or failure. Agents never surface raw panics or errors past this.
type InvocationResult struct {
	Success   bool        `json:"success"`
	Agent     string      `json:"agent"`
	Action    string      `json:"action"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

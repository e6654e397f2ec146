package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// Request is the one canonical shape every accepted payload normalizes
// into before the pipeline runs.
type Request struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	// Context is the recent conversation window, newest last.
	Context string `json:"context,omitempty"`

	// Intent, when set, marks a pre-classified request: the router is
	// skipped and the workflow builds directly from this intent.
	Intent   types.Intent                  `json:"intent,omitempty"`
	Entities map[types.EntityType][]string `json:"entities,omitempty"`
}

// envelopeKeys are the wrapper keys callers nest the real payload under.
var envelopeKeys = []string{"message", "payload", "request", "data"}

// Normalize coerces the three accepted payload shapes into a Request:
//
//  1. a raw string — the utterance text;
//  2. a pre-classified object — text plus an intent (and optionally
//     entities) decided upstream;
//  3. a nested envelope — any of the above wrapped under a message/
//     payload/request/data key, one level deep or more.
func Normalize(payload interface{}) (*Request, error) {
	req, err := normalize(payload, 0)
	if err != nil {
		return nil, err
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, fmt.Errorf("payload contains no utterance text")
	}
	return req, nil
}

const maxEnvelopeDepth = 4

func normalize(payload interface{}, depth int) (*Request, error) {
	if depth > maxEnvelopeDepth {
		return nil, fmt.Errorf("payload nested too deeply")
	}

	switch v := payload.(type) {
	case string:
		return &Request{Text: v}, nil

	case *Request:
		if v == nil {
			return nil, fmt.Errorf("nil request payload")
		}
		out := *v
		return &out, nil

	case Request:
		return &v, nil

	case map[string]interface{}:
		// Envelope: unwrap and recurse.
		for _, key := range envelopeKeys {
			if inner, ok := v[key]; ok {
				return normalize(inner, depth+1)
			}
		}
		return fromMap(v)
	}

	return nil, fmt.Errorf("unsupported payload type %T", payload)
}

func fromMap(m map[string]interface{}) (*Request, error) {
	req := &Request{}

	for _, key := range []string{"text", "query", "utterance"} {
		if s, ok := m[key].(string); ok && s != "" {
			req.Text = s
			break
		}
	}
	if s, ok := m["session_id"].(string); ok {
		req.SessionID = s
	} else if s, ok := m["sessionId"].(string); ok {
		req.SessionID = s
	}
	if s, ok := m["context"].(string); ok {
		req.Context = s
	}

	if s, ok := m["intent"].(string); ok && s != "" {
		intent := types.Intent(s)
		if !intent.Valid() {
			return nil, fmt.Errorf("unknown intent %q", s)
		}
		req.Intent = intent
		req.Entities = entitiesFromMap(m["entities"])
	}
	return req, nil
}

func entitiesFromMap(raw interface{}) map[types.EntityType][]string {
	m, ok := raw.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[types.EntityType][]string, len(m))
	for k, v := range m {
		var vals []string
		switch list := v.(type) {
		case []string:
			vals = list
		case []interface{}:
			for _, item := range list {
				if s, ok := item.(string); ok {
					vals = append(vals, s)
				}
			}
		case string:
			vals = []string{list}
		}
		if len(vals) > 0 {
			out[types.EntityType(k)] = vals
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

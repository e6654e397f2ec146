package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/types"
)

// EntityExtractor is the named-entity collaborator. The router layers a
// rule/lexicon pass on top of whatever this returns.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) (map[types.EntityType][]string, error)
}

// =============================================================================
// NER SERVICE CLIENT
// =============================================================================

// HTTPExtractor calls a local NER service (token-classification model served
// over HTTP). Raw model tokens are confidence-filtered and subword-merged
// before bucketing.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client

	// minScore drops low-confidence spans; tuned for distilled NER models.
	minScore float64
}

// NewHTTPExtractor creates an extractor against the given NER endpoint.
func NewHTTPExtractor(endpoint string) *HTTPExtractor {
	return &HTTPExtractor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		minScore: 0.5,
	}
}

type nerToken struct {
	Entity string  `json:"entity"`
	Word   string  `json:"word"`
	Score  float64 `json:"score"`
	Index  int     `json:"index"`
}

// ExtractEntities runs the primary NER pass.
func (e *HTTPExtractor) ExtractEntities(ctx context.Context, text string) (map[types.EntityType][]string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.endpoint+"/ner", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ner service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var tokens []nerToken
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("failed to decode ner response: %w", err)
	}

	return e.mergeTokens(tokens), nil
}

// mergeTokens folds subword pieces ("Ju", "##lia") back into whole words and
// buckets them by entity label.
func (e *HTTPExtractor) mergeTokens(tokens []nerToken) map[types.EntityType][]string {
	out := make(map[types.EntityType][]string)

	var current string
	var currentType types.EntityType

	flush := func() {
		if current != "" && currentType != "" {
			out[currentType] = appendUnique(out[currentType], current)
		}
		current = ""
		currentType = ""
	}

	for _, tok := range tokens {
		if tok.Score < e.minScore {
			flush()
			continue
		}
		if strings.HasPrefix(tok.Word, "##") {
			current += strings.TrimPrefix(tok.Word, "##")
			continue
		}

		et := labelToType(tok.Entity)
		if et == "" {
			flush()
			continue
		}
		// B- labels and label changes start a new span.
		if strings.HasPrefix(tok.Entity, "B-") || et != currentType {
			flush()
			currentType = et
			current = tok.Word
		} else {
			current += " " + tok.Word
		}
	}
	flush()

	return out
}

func labelToType(label string) types.EntityType {
	label = strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")
	switch label {
	case "PER", "PERSON":
		return types.EntityPerson
	case "LOC", "GPE", "LOCATION":
		return types.EntityLocation
	case "DATE", "TIME", "DATETIME":
		return types.EntityDatetime
	case "EVENT":
		return types.EntityEvent
	case "MISC", "PRODUCT":
		return types.EntityItems
	}
	return ""
}

// =============================================================================
// RULE/LEXICON PASS
// =============================================================================

var (
	datetimeRe = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|today|tonight|yesterday|january|february|march|april|may|june|july|august|september|october|november|december|\d{1,2}(:\d{2})?\s*(am|pm)|\d{1,2}/\d{1,2}(/\d{2,4})?|next\s+week|last\s+week)\b`)

	personRe = regexp.MustCompile(`\b(?:with|for|and|tell|call|ask)\s+([A-Z][a-z]+)\b`)

	locationRe = regexp.MustCompile(`\b(?:at|in|to|near)\s+(?:the\s+)?([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\b`)

	eventWords = []string{
		"meeting", "appointment", "call", "birthday", "deadline", "lunch",
		"dinner", "interview", "standup", "demo", "flight", "trip", "party",
		"conference", "review",
	}

	capabilityWords = []string{
		"screenshot", "screen", "clipboard", "volume", "music", "email",
		"browser", "window", "camera", "microphone", "notification", "timer",
		"calendar", "file",
	}
)

// extractLexiconEntities is the secondary rule-based pass: cheap, offline,
// and the only pass available when the NER collaborator is down.
func extractLexiconEntities(text string) map[types.EntityType][]string {
	out := make(map[types.EntityType][]string)
	lower := strings.ToLower(text)

	for _, m := range datetimeRe.FindAllString(text, -1) {
		out[types.EntityDatetime] = appendUnique(out[types.EntityDatetime], strings.TrimSpace(m))
	}
	for _, m := range personRe.FindAllStringSubmatch(text, -1) {
		out[types.EntityPerson] = appendUnique(out[types.EntityPerson], m[1])
	}
	for _, m := range locationRe.FindAllStringSubmatch(text, -1) {
		out[types.EntityLocation] = appendUnique(out[types.EntityLocation], m[1])
	}
	for _, w := range eventWords {
		if strings.Contains(lower, w) {
			out[types.EntityEvent] = appendUnique(out[types.EntityEvent], w)
		}
	}
	for _, w := range capabilityWords {
		if strings.Contains(lower, w) {
			out[types.EntityCapability] = appendUnique(out[types.EntityCapability], w)
		}
	}

	return out
}

// mergeEntities layers the lexicon pass over the NER pass without duplicates.
func mergeEntities(primary, secondary map[types.EntityType][]string) map[types.EntityType][]string {
	out := make(map[types.EntityType][]string)
	for et, vals := range primary {
		for _, v := range vals {
			out[et] = appendUnique(out[et], v)
		}
	}
	for et, vals := range secondary {
		for _, v := range vals {
			out[et] = appendUnique(out[et], v)
		}
	}
	return out
}

func appendUnique(list []string, val string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, val) {
			return list
		}
	}
	return append(list, val)
}

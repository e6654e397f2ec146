package router

import (
	"regexp"
	"strings"
)

// Signals is the lexical evidence extracted from one utterance. Scoring is
// additive over these; none of them alone decides an intent.
type Signals struct {
	Tokens     []string
	TokenCount int

	HasWHWord       bool // what/who/where/when/why/how/which, incl. contractions
	HasQuestionMark bool
	HasGreeting     bool // greeting prefix
	HasImperative   bool // action-verb prefix
	HasModalRequest bool // "can/could/would/will you ..."
	HasFirstPerson  bool // i/we/my/our/me/us
	HasFutureCue    bool
	HasPastCue      bool
	HasNegatedAction     bool // negation within a short window before an action verb
	HasAbilityStatement  bool // declarative "I can ..." rather than a request
	HasSpeculative       bool // maybe/might/probably/i think
	HasStorageVerb       bool // remember/note/save/keep in mind
	HasRetrievalCue      bool // "what did", "do you remember", recall
}

var (
	whWords = map[string]bool{
		"what": true, "who": true, "where": true, "when": true,
		"why": true, "how": true, "which": true,
		"what's": true, "who's": true, "where's": true, "when's": true,
		"why's": true, "how's": true,
	}

	greetingPrefixes = []string{
		"hi", "hey", "hello", "howdy", "yo", "good morning", "good afternoon",
		"good evening", "what's up", "whats up",
	}

	imperativeVerbs = map[string]bool{
		"open": true, "close": true, "take": true, "capture": true, "show": true,
		"play": true, "pause": true, "set": true, "turn": true, "start": true,
		"stop": true, "launch": true, "mute": true, "unmute": true, "search": true,
		"find": true, "create": true, "send": true, "call": true, "screenshot": true,
		"copy": true, "paste": true, "delete": true, "increase": true, "decrease": true,
	}

	actionVerbs = map[string]bool{
		"remember": true, "save": true, "note": true, "remind": true,
		"open": true, "take": true, "send": true, "call": true, "play": true,
		"forget": true, "capture": true, "show": true,
	}

	negationWords = map[string]bool{
		"not": true, "don't": true, "dont": true, "never": true, "no": true,
		"won't": true, "wont": true, "can't": true, "cant": true,
	}

	futureCues = map[string]bool{
		"tomorrow": true, "later": true, "tonight": true, "soon": true,
		"next": true, "upcoming": true, "will": true, "gonna": true,
	}

	pastCues = map[string]bool{
		"yesterday": true, "earlier": true, "ago": true, "last": true,
		"was": true, "were": true, "did": true, "discussed": true,
		"talked": true, "mentioned": true, "said": true,
	}

	firstPersonPronouns = map[string]bool{
		"i": true, "we": true, "my": true, "our": true, "me": true,
		"us": true, "i'm": true, "i've": true, "we're": true, "we've": true,
	}

	speculativeCues = []string{
		"maybe", "might", "probably", "perhaps", "i think", "i guess",
		"should i", "i wonder",
	}

	storageVerbs = []string{
		"remember", "note", "save", "keep in mind", "remind me", "jot down",
		"don't forget", "make a note", "store",
	}

	retrievalCues = []string{
		"what did", "do you remember", "do you recall", "recall",
		"did i", "did we", "what was", "when did", "what do you know about",
		"have i told", "remind me what",
	}

	modalRequestRe = regexp.MustCompile(`(?i)^(can|could|would|will)\s+you\b`)
	tokenSplitRe   = regexp.MustCompile(`[^\w']+`)
)

// ExtractSignals tokenizes the utterance and detects the lexical cues the
// scorer consumes. Pure function; safe on arbitrary input.
func ExtractSignals(text string) Signals {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	tokens := tokenSplitRe.Split(lower, -1)
	// Drop empty tokens the splitter leaves at the edges.
	filtered := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			filtered = append(filtered, t)
		}
	}
	tokens = filtered

	s := Signals{
		Tokens:     tokens,
		TokenCount: len(tokens),
	}
	if len(tokens) == 0 {
		return s
	}

	s.HasQuestionMark = strings.HasSuffix(trimmed, "?")
	s.HasWHWord = whWords[tokens[0]]
	if !s.HasWHWord {
		// WH-word after a short lead-in ("so what did we...").
		for i, t := range tokens {
			if i > 2 {
				break
			}
			if whWords[t] {
				s.HasWHWord = true
				break
			}
		}
	}

	for _, prefix := range greetingPrefixes {
		if lower == prefix || strings.HasPrefix(lower, prefix+" ") || strings.HasPrefix(lower, prefix+",") || strings.HasPrefix(lower, prefix+"!") {
			s.HasGreeting = true
			break
		}
	}

	s.HasImperative = imperativeVerbs[tokens[0]]
	s.HasModalRequest = modalRequestRe.MatchString(trimmed)

	for _, t := range tokens {
		if firstPersonPronouns[t] {
			s.HasFirstPerson = true
		}
		if futureCues[t] {
			s.HasFutureCue = true
		}
		if pastCues[t] {
			s.HasPastCue = true
		}
	}

	// Negation within a 3-token window before an action verb
	// ("please do not save this").
	for i, t := range tokens {
		if !actionVerbs[t] {
			continue
		}
		start := i - 3
		if start < 0 {
			start = 0
		}
		for _, w := range tokens[start:i] {
			if negationWords[w] {
				s.HasNegatedAction = true
				break
			}
		}
		if s.HasNegatedAction {
			break
		}
	}

	// Declarative ability: "i can juggle" is a statement, not a request.
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] == "i" && (tokens[i+1] == "can" || tokens[i+1] == "know") {
			s.HasAbilityStatement = true
			break
		}
	}

	for _, cue := range speculativeCues {
		if strings.Contains(lower, cue) {
			s.HasSpeculative = true
			break
		}
	}
	for _, verb := range storageVerbs {
		if strings.Contains(lower, verb) {
			s.HasStorageVerb = true
			break
		}
	}
	// "don't forget X" is storage intent despite the negation.
	if strings.Contains(lower, "don't forget") || strings.Contains(lower, "dont forget") {
		s.HasNegatedAction = false
	}
	for _, cue := range retrievalCues {
		if strings.Contains(lower, cue) {
			s.HasRetrievalCue = true
			break
		}
	}

	return s
}

package tagging

import (
	"strings"
	"unicode"

	"previscore/internal/models"
)

// FilenameRules is the configured dictionary mapping a case-insensitive
// token to the tuple it contributes.
type FilenameRules map[string]models.TagAssignment

// DefaultFilenameRules is a small starter dictionary; hosts extend it with
// production-specific tokens (character names, location codes, etc.).
func DefaultFilenameRules() FilenameRules {
	return FilenameRules{
		"office":  {L1: "scene", L2: "interior", L3: "office"},
		"street":  {L1: "scene", L2: "exterior", L3: "street"},
		"run":     {L1: "action", L2: "movement", L3: "running"},
		"running": {L1: "action", L2: "movement", L3: "running"},
		"walk":    {L1: "action", L2: "movement", L3: "walking"},
		"happy":   {L1: "emotion", L2: "positive", L3: "joy"},
		"joy":     {L1: "emotion", L2: "positive", L3: "joy"},
		"tense":   {L1: "emotion", L2: "negative", L3: "tension"},
		"外景":     {L1: "scene", L2: "exterior"},
		"内景":     {L1: "scene", L2: "interior"},
	}
}

// tokenize splits a filename on common separators (_, -, space, the dot
// before the extension) and on CJK/Latin script boundaries, the
// "Tokenize the filename by common separators ... CJK word boundaries".
func tokenize(filename string) []string {
	name := filename
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}

	isSeparator := func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}

	var tokens []string
	var current strings.Builder
	var currentIsCJK bool

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range name {
		if isSeparator(r) {
			flush()
			continue
		}
		isCJK := unicode.Is(unicode.Han, r)
		if current.Len() > 0 && isCJK != currentIsCJK {
			flush()
		}
		currentIsCJK = isCJK
		current.WriteRune(unicode.ToLower(r))
	}
	flush()
	return tokens
}

// MatchFilename returns every tuple contributed by tokens in filename,
// every token match contributes its tuple.
func MatchFilename(rules FilenameRules, filename string) []models.TagAssignment {
	var out []models.TagAssignment
	for _, tok := range tokenize(filename) {
		if tuple, ok := rules[strings.ToLower(tok)]; ok {
			out = append(out, tuple)
		}
	}
	return out
}

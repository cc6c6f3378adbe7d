package searcher

import (
	"regexp"
	"strings"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// Intent is a heuristic classification of what a query is after. It steers
// symbol-kind filters and empty-result suggestions, never correctness.
type Intent string

const (
	IntentFindFunction Intent = "find_function"
	IntentFindClass    Intent = "find_class"
	IntentFindUsage    Intent = "find_usage"
	IntentFindPattern  Intent = "find_pattern"
	IntentGeneral      Intent = "general"
)

var (
	functionWords = []string{"function", "func", "method", "handler", "callback", "routine"}
	classWords    = []string{"class", "struct", "interface", "type", "model", "enum"}
	usageWords    = []string{"usage", "uses", "used", "called", "callers", "references", "invocations", "where is"}
	patternWords  = []string{"pattern", "example", "how to", "similar", "like"}
)

// ClassifyIntent buckets a query by keyword presence
func ClassifyIntent(query string) Intent {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, usageWords):
		return IntentFindUsage
	case containsAny(q, functionWords):
		return IntentFindFunction
	case containsAny(q, classWords):
		return IntentFindClass
	case containsAny(q, patternWords):
		return IntentFindPattern
	default:
		return IntentGeneral
	}
}

// SymbolKindsFor maps an intent to the symbol kinds worth filtering on.
// General queries get no filter.
func SymbolKindsFor(intent Intent) []string {
	switch intent {
	case IntentFindFunction:
		return []string{string(types.KindFunction), string(types.KindMethod)}
	case IntentFindClass:
		return []string{
			string(types.KindClass),
			string(types.KindInterface),
			string(types.KindType),
			string(types.KindEnum),
		}
	default:
		return nil
	}
}

// Suggestions proposes query rephrasings when a search comes back empty
func Suggestions(intent Intent, query string) []string {
	idents := ExtractIdentifiers(query)
	var out []string
	if len(idents) > 0 {
		out = append(out, idents[0])
	}
	switch intent {
	case IntentFindFunction:
		out = append(out, "function "+strings.TrimSpace(query))
	case IntentFindClass:
		out = append(out, "type definition "+strings.TrimSpace(query))
	case IntentFindUsage:
		out = append(out, "callers of "+strings.TrimSpace(query))
	default:
		out = append(out, "try naming a specific function or type")
	}
	return out
}

var (
	callPattern  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	camelPattern = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]*)+\b`)
	capPattern   = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]*\b`)
)

// stopWords are capitalized tokens that are query grammar, not identifiers
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "how": true, "what": true,
	"where": true, "find": true, "show": true, "all": true, "in": true,
	"is": true, "are": true, "does": true, "do": true, "i": true,
}

// ExtractIdentifiers pulls probable code identifiers out of a natural
// language query: names followed by a call paren, camelCase words, and
// capitalized runs that are not common English sentence openers.
func ExtractIdentifiers(query string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ident string) {
		if ident == "" || stopWords[strings.ToLower(ident)] || seen[ident] {
			return
		}
		seen[ident] = true
		out = append(out, ident)
	}

	for _, m := range callPattern.FindAllStringSubmatch(query, -1) {
		add(m[1])
	}
	for _, m := range camelPattern.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range capPattern.FindAllString(query, -1) {
		add(m)
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

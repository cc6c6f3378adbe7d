package types

// MatchType identifies which retrieval path produced a search match
type MatchType string

const (
	MatchTypeSemantic   MatchType = "semantic"
	MatchTypeLexical    MatchType = "lexical"
	MatchTypeDependency MatchType = "dependency"
	MatchTypeSymbol     MatchType = "symbol"
)

// SearchMatch is a ranked chunk returned to a caller
type SearchMatch struct {
	Chunk

	Score float64
	// OriginalScore preserves the pre-rerank score when a reranker replaced it
	OriginalScore float64
	// RerankScore holds the cross-encoder relevance when reranking ran
	RerankScore float64
	Reranked    bool

	MatchType MatchType
	// RelatedMatches lists chunk IDs sharing symbols or dependency edges
	RelatedMatches []string
}

// FileError pairs a file path with the error that stopped its processing
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

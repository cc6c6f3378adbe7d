package types

import "errors"

// Sentinel errors for expected failure modes. Callers branch on these with
// errors.Is rather than matching message strings.
var (
	// ErrEmptyQuery indicates a search request with no query text
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrNotIndexed indicates a namespace that has never been indexed.
	// This is a distinct condition from a generic storage failure.
	ErrNotIndexed = errors.New("codebase is not indexed")

	// ErrInputTooLarge indicates content exceeding the parser's single-pass limit
	ErrInputTooLarge = errors.New("input exceeds parser size limit")

	// ErrUnsupportedLanguage indicates no grammar is registered for a file
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

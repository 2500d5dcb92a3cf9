package invertix

import "errors"

// Sentinel errors for the transposition and query-time subsystems.
//
// These are package-level variables, matching the teacher repo's own
// convention, so callers can compare with errors.Is instead of parsing
// diagnostic strings.
var (
	// ErrPreconditionFailed is wrapped with a concrete diagnostic by
	// DirectIndexBuilder.Build for each of the four checks in §4.3.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrMalformedStream signals a bit-level decode inconsistency, such as
	// an unterminated unary prefix crossing an EOF.
	ErrMalformedStream = errors.New("malformed bit stream")

	// ErrIndexOutOfRange is returned by PostingListManager.Score and
	// GetPosting when i is outside [0, numTerms). It is never caught
	// internally.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrNoPostingList names the case of a lookup that finds no posting
	// list for a requested term or pointer. No function in this package
	// returns it: an unseen term is reported through
	// Lexicon.GetLexiconEntry's found flag and skipped during assembly.
	ErrNoPostingList = errors.New("no posting list for term")

	// ErrManagerNotPrepared is returned by Score when Prepare has not yet
	// been called. The accessors (GetPosting and friends) do not check it.
	ErrManagerNotPrepared = errors.New("posting list manager not prepared")
)

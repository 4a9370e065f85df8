package bulk

import "fmt"

// Reason classifies why a document failed to parse.
type Reason string

const (
	MissingOptions           Reason = "missing_options"
	InvalidAnswerLetter      Reason = "invalid_answer_letter"
	ExplanationWithoutAnswer Reason = "explanation_without_answer"
	NoBlocksDetected         Reason = "no_blocks_detected"
	MalformedBlock           Reason = "malformed_block"
)

// ParseError reports the first structural violation found in a document.
// Parsing is all-or-nothing: no partial action list accompanies it.
//
// Block is the 0-based index of the offending block in source order, or -1
// when no block could be attributed (NoBlocksDetected).
type ParseError struct {
	Block  int
	Reason Reason
	Detail string
}

func (e *ParseError) Error() string {
	if e.Block < 0 {
		return fmt.Sprintf("parse: %s: %s", e.Reason, e.Detail)
	}
	// 1-based in user-facing text.
	return fmt.Sprintf("parse: block #%d: %s: %s", e.Block+1, e.Reason, e.Detail)
}

func parseErr(block int, reason Reason, format string, args ...any) *ParseError {
	return &ParseError{Block: block, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

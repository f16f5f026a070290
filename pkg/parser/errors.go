package parser

import "fmt"

// maxInputInError limits how much of the offending output is kept in a ParseError
const maxInputInError = 512

// ParseError reports command output that does not match the expected format
type ParseError struct {
	Parser string
	Reason string
	Input  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Parser, e.Reason)
}

func newParseError(parser, reason, input string) *ParseError {
	if len(input) > maxInputInError {
		input = input[:maxInputInError] + "..."
	}
	return &ParseError{Parser: parser, Reason: reason, Input: input}
}

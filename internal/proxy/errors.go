package proxy

import "errors"

var (
	// ErrUnexpectedNesting is returned when an app block contains more than
	// one level of nested blocks
	ErrUnexpectedNesting = errors.New("app block nests deeper than one level")

	// ErrUnbalancedBraces is returned when the config has an unclosed or
	// stray brace
	ErrUnbalancedBraces = errors.New("unbalanced braces in proxy config")
)

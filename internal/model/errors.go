package model

import "errors"

var (
	ErrNilContext         = errors.New("nil sql context")
	ErrEmptySQL           = errors.New("sql text is required")
	ErrMissingCommandType = errors.New("command type is required")
)

// Synthetic finding types that are not produced by a checker.
const (
	IssueMalformedSQL      = "MALFORMED_SQL"
	IssueMalformedTemplate = "MALFORMED_TEMPLATE"
	IssueCheckerFailure    = "CHECKER_FAILURE"
	IssueInvalidVariant    = "INVALID_VARIANT"
)

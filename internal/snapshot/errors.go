package snapshot

import (
	"errors"
	"fmt"
)

// ParseError wraps a specific error with context about where it occurred.
type ParseError struct {
	Line   int
	Record []string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %v (record: %v)", e.Line, e.Err, e.Record)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	ErrUnknownFormat     = errors.New("unknown snapshot format")
	ErrUnknownRecord     = errors.New("unknown record kind")
	ErrInvalidFieldCount = errors.New("invalid field count")
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidAvailable  = errors.New("invalid available flag")
	ErrInvalidLoad       = errors.New("invalid load")
	ErrInvalidMaxTasks   = errors.New("invalid max tasks")
)

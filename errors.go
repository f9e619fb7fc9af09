package lexgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/lexgo/manifest"
	"github.com/hupe1980/lexgo/query"
	"github.com/hupe1980/lexgo/segment"
)

var (
	// ErrClosed is returned when the engine is used after Close.
	ErrClosed = errors.New("lexgo: engine is closed")

	// ErrQueryTooLong is returned when a query exceeds the configured
	// byte limit.
	ErrQueryTooLong = errors.New("lexgo: query too long")
)

// ValidationError reports a violated input contract. The engine returns it
// when Index or Update is called without paths; an oversized query is
// reported with ErrQueryTooLong, not with ValidationError. It marks a
// programmer error at the call site and is never retried internally.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "lexgo: validation: " + e.Msg
}

func validationErrf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsParseError reports whether err is a query parse error and returns it.
func IsParseError(err error) (*query.ParseError, bool) {
	var pe *query.ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsFormatError reports whether err is an index-file format violation
// (magic, version, CRC, varint, ordering, offset) and returns it.
func IsFormatError(err error) (*segment.FormatError, bool) {
	var fe *segment.FormatError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsConcurrentModification reports whether err is a lost manifest race.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, manifest.ErrConcurrentModification)
}

package merger

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Decoding and source errors match one of these via errors.Is;
// errors returned by producers are wrapped, not replaced.
var (
	ErrMalformedStream = errors.New("malformed stream")
	ErrTruncatedStream = errors.New("truncated stream")
	ErrUnexpectedShape = errors.New("unexpected shape")
	ErrProducer        = errors.New("producer failed")
	ErrValidation      = errors.New("validation failed")
)

// DataError reports a problem with encoded bytes, with the offending data and
// offset attached for diagnostics.
type DataError struct {
	Kind error
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(kind error, data []byte, off int, err error, format string, args ...any) error {
	return &DataError{kind, data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	msg := e.Kind.Error() + ": " + e.Msg
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", msg, e.Off, n, p, s)
		}
	}
}

// SourceError reports a failure of a particular source: a producer that
// failed or yielded something unusable, or a value that could not become
// a tuple.
type SourceError struct {
	Source string
	Kind   error
	Msg    string
	Err    error
}

func sourceErrf(source string, kind error, err error, format string, args ...any) error {
	return &SourceError{source, kind, fmt.Sprintf(format, args...), err}
}

func (e *SourceError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func (e *SourceError) Error() string {
	var buf strings.Builder
	if e.Source != "" {
		buf.WriteString(e.Source)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Kind.Error())
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

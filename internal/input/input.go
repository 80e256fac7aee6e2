// Package input reads flag values that point at stdin ("-") or a file
// ("@path") instead of carrying the text inline.
package input

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrStdinUsed is returned when a second flag asks for stdin.
var ErrStdinUsed = errors.New("stdin already consumed by another flag")

// Reader expands flag values. One Reader hands out stdin at most once.
type Reader struct {
	Stdin     io.Reader
	stdinUsed bool
}

// NewReader returns a Reader on os.Stdin.
func NewReader() *Reader {
	return &Reader{Stdin: os.Stdin}
}

// Value returns v, or the contents of stdin for "-", or of the named file
// for "@path". Trailing newlines are trimmed.
func (r *Reader) Value(v string) (string, error) {
	switch {
	case v == "-":
		if r.stdinUsed {
			return "", ErrStdinUsed
		}
		r.stdinUsed = true
		data, err := io.ReadAll(r.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	case strings.HasPrefix(v, "@") && len(v) > 1:
		data, err := os.ReadFile(v[1:])
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	return v, nil
}

// Package xferrors defines the closed set of domain error kinds the
// pipeline distinguishes between, per the error handling design.
package xferrors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", Kind) and compare with
// errors.Is so callers never have to match error strings.
var (
	// BadInput marks a frame rejected before any state mutation: malformed
	// JSON, a missing busId, or a non-finite coordinate.
	BadInput = errors.New("bad input")

	// StorageError marks a transient failure from the catalog reader or a
	// broadcaster route-resolution lookup. The current frame's matcher/
	// esta-info steps are skipped; history is still committed.
	StorageError = errors.New("storage error")

	// ClientGone marks a failed write to an egress connection. The
	// connection is removed from the registry; other broadcasts proceed.
	ClientGone = errors.New("client gone")

	// UnknownSubline marks a subline id the broadcaster could not resolve
	// to a main route. The message is dropped and logged once.
	UnknownSubline = errors.New("unknown subline")
)

// Wrap annotates kind with a message, preserving errors.Is(err, kind).
func Wrap(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(kind error, format string, args ...any) error {
	return Wrap(kind, fmt.Sprintf(format, args...))
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

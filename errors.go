// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"errors"
	"fmt"
)

// ErrorKind classifies command failures. Commands return nil on success.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindInvalidState
	KindInvalidArgument
	KindInUse
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalidState:
		return "InvalidState"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInUse:
		return "InUse"
	case KindUnavailable:
		return "Unavailable"
	}
	return "Unknown"
}

// Error is returned by every command of the Module.
// Match kinds with errors.Is(err, ErrNotFound) or KindOf(err).
type Error struct {
	Kind ErrorKind
	// Op is command name
	Op  string
	Msg string
}

func (e *Error) Error() string {
	s := "sipua: "
	if e.Op != "" {
		s += e.Op + ": "
	}
	s += e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Is matches any error of same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrInUse           = &Error{Kind: KindInUse}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
)

// KindOf returns kind of err. nil returns KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, op string, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Msg: msg}
}

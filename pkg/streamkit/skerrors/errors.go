// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package skerrors is the §7 error taxonomy: configuration errors (surfaced
// to the AddNode/TuneNode caller), recoverable runtime errors (the node
// degrades and continues), and fatal runtime errors (the node exits Failed).
// Protocol violations and cancellation are not represented as error values —
// they're handled inline at the call site per §7.
package skerrors

import "fmt"

// Kind classifies an error for engine-level handling decisions.
type Kind int

const (
	KindConfiguration Kind = iota
	KindRuntimeRecoverable
	KindRuntimeFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRuntimeRecoverable:
		return "runtime_recoverable"
	case KindRuntimeFatal:
		return "runtime_fatal"
	default:
		return "unknown"
	}
}

// Error is a StreamKit error carrying its taxonomy Kind and an optional
// wrapped cause, mirroring the Rust StreamKitError enum's variants.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Configuration builds a Configuration-kind error: bad params, bad script,
// unknown node kind. The engine stays up; the caller of AddNode/TuneNode
// sees the failure.
func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Recoverable builds a transient runtime error: the node should emit
// Degraded/Recovering, skip the bad packet, and continue.
func Recoverable(format string, args ...interface{}) *Error {
	return &Error{Kind: KindRuntimeRecoverable, Message: fmt.Sprintf(format, args...)}
}

// Fatal builds a fatal runtime error: the node must emit Failed and return
// from run(). The engine observes the exit and leaves other nodes running.
func Fatal(format string, args ...interface{}) *Error {
	return &Error{Kind: KindRuntimeFatal, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to an existing Error, preserving its Kind.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Cause: cause}
}

// IsFatal reports whether err should be treated as fatal-to-node. A plain
// (non-*Error) error defaults to fatal, matching the conservative original
// behavior of terminating run() on an unclassified error.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == KindRuntimeFatal
	}
	return true
}

// IsConfiguration reports whether err is a Configuration-kind error.
func IsConfiguration(err error) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == KindConfiguration
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

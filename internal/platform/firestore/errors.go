package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind int

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error classifies a Firestore failure so services can map it onto their own
// domain errors without importing grpc codes.
type Error struct {
	op   string
	kind errorKind
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict reports a write that lost to a concurrent update or uniqueness
// constraint.
func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable reports a transient backend failure worth retrying.
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func classify(err error) errorKind {
	switch status.Code(err) {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	}
	return kindUnknown
}

// WrapError attaches an operation label and a classification to a Firestore
// error. Context cancellation surfaces as the plain context errors so callers
// can errors.Is against them.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.op == "" {
			classified.op = op
		}
		return classified
	}
	return &Error{op: op, kind: classify(err), err: err}
}

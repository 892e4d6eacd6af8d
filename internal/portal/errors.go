package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// TransportKind classifies a transport-level failure.
type TransportKind string

const (
	// KindTruncated is a body cut off mid-transfer (chunked encoding failure).
	KindTruncated TransportKind = "truncated"
	KindReset     TransportKind = "reset"
	KindTimeout   TransportKind = "timeout"
	KindProtocol  TransportKind = "protocol"
)

// TransportError is a failure below HTTP semantics. These are the only
// errors the retry policy retries.
type TransportError struct {
	Op   string
	Kind TransportKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a completed exchange with an HTTP error status.
// It is never retried.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNonExistent reports whether err is the portal's "no such project" signal.
//
// The portal never answers with a 404; for unknown IDs it aborts the chunked
// response body. This is observed behavior, not a documented contract, so it
// is kept to this single predicate and misclassification is possible.
func IsNonExistent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTruncated
}

// classifyTransport wraps a client error. Caller cancellation is returned
// unchanged so that it is not retried. Only a chunked response cut off
// mid-body is KindTruncated; a short fixed-length body is a protocol error.
func classifyTransport(ctx context.Context, op string, err error, chunked bool) error {
	if ctx.Err() == context.Canceled || errors.Is(err, context.Canceled) {
		return err
	}

	kind := KindProtocol
	switch {
	case chunked && isTruncation(err):
		kind = KindTruncated
	case isTimeout(err):
		kind = KindTimeout
	case isReset(err):
		kind = KindReset
	}
	return &TransportError{Op: op, Kind: kind, Err: err}
}

func isTruncation(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "chunked") || strings.Contains(msg, "unexpected EOF")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}

// Package migerr implements the error taxonomy and retry policy shared by
// every pgreplicator component (spec §4.K, §7).
package migerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an error into one of the taxonomy buckets from §7. Only
// Transient errors are eligible for automatic retry.
type Kind string

const (
	Misconfiguration     Kind = "misconfiguration"
	AuthenticationFailed Kind = "authentication_failed"
	InsufficientPriv     Kind = "insufficient_privilege"
	VersionIncompatible  Kind = "version_incompatible"
	ExtensionIncompat    Kind = "extension_incompatible"
	DuplicateDatabase    Kind = "duplicate_database"
	FilterMismatch       Kind = "filter_mismatch"
	Transient            Kind = "transient"
	ExternalToolFailed   Kind = "external_tool_failed"
	ReplicationTimeout   Kind = "replication_timeout"
	IntegrityMismatch    Kind = "integrity_mismatch"
	UserCancelled        Kind = "user_cancelled"
)

// Error is the single error type returned by every pgreplicator operation
// that can fail. Phase is the op name at the point of origin ("dump_schema",
// "create_publication", ...); it is empty when not meaningful.
type Error struct {
	Kind    Kind
	Phase   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Phase != "" {
		b.WriteString(" (")
		b.WriteString(e.Phase)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf attaches a kind and formatted message to an underlying cause.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithPhase returns a copy of e tagged with the originating phase/op name.
func (e *Error) WithPhase(phase string) *Error {
	c := *e
	c.Phase = phase
	return &c
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// Retryable reports whether err should be retried by RetryWithBackoff: only
// errors explicitly classified Transient are retried (§4.K — "non-idempotent
// side effects are NOT wrapped").
func Retryable(err error) bool {
	return Is(err, Transient)
}

// Classify maps a raw error from a pg driver call or external tool into a
// taxonomy Kind, following the string/code matching original_source's
// src/postgres/connection.rs uses for the same purpose.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000": // invalid_password, invalid_authorization_specification
			return AuthenticationFailed
		case "42501": // insufficient_privilege
			return InsufficientPriv
		case "42P04": // duplicate_database
			return DuplicateDatabase
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password authentication failed"),
		strings.Contains(msg, "no pg_hba.conf entry"):
		return AuthenticationFailed
	case strings.Contains(msg, "does not exist") && strings.Contains(msg, "database"):
		return Misconfiguration
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "must be owner"):
		return InsufficientPriv
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "could not connect"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "broken pipe"):
		return Transient
	case strings.Contains(msg, "wal_level"):
		return ExtensionIncompat
	default:
		return ""
	}
}

// RetryWithBackoff runs op up to maxRetries+1 times, doubling the delay
// after each failed attempt starting from initialDelay. Only errors
// Retryable (Kind Transient) are retried; any other error or a ctx
// cancellation returns immediately.
func RetryWithBackoff(ctx context.Context, maxRetries int, initialDelay time.Duration, op func(ctx context.Context) error) error {
	delay := initialDelay
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// ConnectRetryPolicy is the default retry policy for connection
// establishment: 3 retries, 1s initial delay (§4.K).
const (
	ConnectMaxRetries  = 3
	ConnectInitialWait = time.Second
)

// RetryConnect wraps a connect operation with the default connection retry
// policy.
func RetryConnect(ctx context.Context, op func(ctx context.Context) error) error {
	return RetryWithBackoff(ctx, ConnectMaxRetries, ConnectInitialWait, op)
}

// Package errs defines the error-kind taxonomy from the trading engine's
// error handling design: every fallible operation across the pipeline
// surfaces one of these kinds so logging and /metrics stay consistent
// regardless of which component failed.
package errs

import "fmt"

// Kind is a stable, machine-readable error classification. Only
// KindInvariantViolation and KindConfigMissing are fatal; every other kind
// is reported (logged + counted) and the pipeline continues.
type Kind string

const (
	KindFeedDisconnect     Kind = "feed_disconnect"
	KindDecodeError        Kind = "decode_error"
	KindInferenceError     Kind = "inference_error"
	KindVectorStoreError   Kind = "vector_store_error"
	KindRiskRejection      Kind = "risk_rejection"
	KindQuoteFailure       Kind = "quote_failure"
	KindBuildFailure       Kind = "build_failure"
	KindSubmitFailure      Kind = "submit_failure"
	KindConfirmTimeout     Kind = "confirm_timeout"
	KindInvariantViolation Kind = "invariant_violation"
	KindConfigMissing      Kind = "config_missing"
)

// Fatal reports whether an error of this kind must terminate the process.
func (k Kind) Fatal() bool {
	return k == KindInvariantViolation || k == KindConfigMissing
}

// Error wraps a cause with a stable Kind so callers can branch on policy
// (retry, skip, fatal) without string matching.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Package runtimeerr classifies the small set of error kinds the runtime
// distinguishes for logging and propagation-policy decisions (spec §7).
package runtimeerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the runtime's closed set of error classifications.
type Kind string

const (
	// KindIO covers transport and socket failures.
	KindIO Kind = "io"
	// KindProtocolViolation covers framing and decoding failures.
	KindProtocolViolation Kind = "protocol_violation"
	// KindCryptographic covers signature verification and key-exchange decode failures.
	KindCryptographic Kind = "cryptographic"
	// KindAuthRejected covers unknown tokens and replay detection.
	KindAuthRejected Kind = "auth_rejected"
	// KindHandlerFault covers exceptions raised inside a reactor or link handler.
	KindHandlerFault Kind = "handler_fault"
	// KindGameRuleRejection covers a game-rules stepper rejecting a move.
	KindGameRuleRejection Kind = "game_rule_rejection"
)

// Error pairs a Kind with the underlying cause so call sites can branch on
// classification without string matching.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause with the supplied kind.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Of reports the Kind of err if it is (or wraps) a *Error, and false otherwise.
func Of(err error) (Kind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return "", false
}

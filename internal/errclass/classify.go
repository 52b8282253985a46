// Package errclass converts arbitrary failures into a typed error carrying
// an explicit terminal/retryable discriminant. The classification is the
// sole input to the retry decision: it is deterministic for identical input
// strings so retry behavior is reproducible.
package errclass

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the failure class recorded on the trigger row.
type Type string

const (
	TypeValidation Type = "VALIDATION"
	TypeNetwork    Type = "NETWORK"
	TypeContract   Type = "CONTRACT"
	TypeTerminal   Type = "TERMINAL"
	TypeIndexerLag Type = "INDEXER_LAG"
)

// Error is a classified failure.
type Error struct {
	Message  string
	Type     Type
	Terminal bool
}

func (e *Error) Error() string { return e.Message }

// New creates a classified error.
func New(message string, typ Type, terminal bool) *Error {
	return &Error{Message: message, Type: typ, Terminal: terminal}
}

// Validationf creates a terminal validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Type: TypeValidation, Terminal: true}
}

// Terminalf creates a terminal catch-all error.
func Terminalf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Type: TypeTerminal, Terminal: true}
}

// validationPatterns are business-rule failures. Never retried.
var validationPatterns = []string{
	"validation failed",
	"precondition",
	"invalid trade",
	"invalid trigger",
	"dispute window",
	"arrival timestamp",
}

// networkPatterns are transient connectivity failures. Always retried.
var networkPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"temporarily unavailable",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"eof",
}

// revertPatterns mark a ledger-level revert.
var revertPatterns = []string{
	"execution reverted",
	"revert",
	"vm exception",
}

// terminalRevertPatterns are reverts that will never succeed on retry:
// authorization failures, duplicate execution, missing state.
var terminalRevertPatterns = []string{
	"not authorized",
	"unauthorized",
	"only oracle",
	"oracle disabled",
	"paused",
	"already executed",
	"already released",
	"already confirmed",
	"already finalized",
	"does not exist",
	"nonexistent",
	"not found",
}

// Classify maps an arbitrary failure to a classified error. An already
// classified error passes through unchanged. Unmatched failures default to
// retryable network-class: fail open toward retry, never toward a silent
// drop.
func Classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	if matchesAny(lower, validationPatterns) {
		return &Error{Message: msg, Type: TypeValidation, Terminal: true}
	}

	if matchesAny(lower, networkPatterns) {
		return &Error{Message: msg, Type: TypeNetwork, Terminal: false}
	}

	if matchesAny(lower, revertPatterns) {
		if matchesAny(lower, terminalRevertPatterns) {
			return &Error{Message: msg, Type: TypeContract, Terminal: true}
		}
		// Transient revert (gas spike, nonce race): worth retrying.
		return &Error{Message: msg, Type: TypeContract, Terminal: false}
	}

	return &Error{Message: msg, Type: TypeNetwork, Terminal: false}
}

// IsTerminal reports whether err classifies as non-retryable.
func IsTerminal(err error) bool {
	return Classify(err).Terminal
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

package chain

import (
	"errors"
	"fmt"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
)

// Kind classifies a chain failure
type Kind string

const (
	// KindUnavailable covers transport failures and timeouts. Retryable by the caller.
	KindUnavailable Kind = "unavailable"
	// KindExecution is a deterministic revert. Fatal.
	KindExecution Kind = "execution"
	// KindUnauthorized is a revert because the sender is not the on-chain owner
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound is returned by reads for unknown ids
	KindNotFound Kind = "not_found"
)

// Outcome says what is known about the chain state after a failed call
type Outcome string

const (
	OutcomeNotSubmitted Outcome = "not_submitted"
	OutcomeRejected     Outcome = "rejected"
	OutcomeUnknown      Outcome = "unknown"
)

// Error is returned by every Adapter method
type Error struct {
	Op      string
	Kind    Kind
	Outcome Outcome
	Code    uint32
	Log     string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("chain %s: %s (%s)", e.Op, e.Kind, e.Outcome)
	if e.Code != contract.CodeOK {
		msg += ": " + contract.CodeName(e.Code)
	}
	if e.Log != "" {
		msg += ": " + e.Log
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, ErrUnavailable) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrUnavailable  = &Error{Kind: KindUnavailable}
	ErrExecution    = &Error{Kind: KindExecution}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

// IsOutcomeUnknown reports whether err is a write whose effect on the chain is unknown
func IsOutcomeUnknown(err error) bool {
	var chainErr *Error
	return errors.As(err, &chainErr) && chainErr.Outcome == OutcomeUnknown
}

func unavailable(op string, outcome Outcome, err error) *Error {
	return &Error{Op: op, Kind: KindUnavailable, Outcome: outcome, Err: err}
}

// reverted maps a contract result code onto an Error
func reverted(op string, code uint32, log string) *Error {
	kind := KindExecution
	switch code {
	case contract.CodeNotOwner:
		kind = KindUnauthorized
	case contract.CodeProductNotFound:
		kind = KindNotFound
	}
	return &Error{Op: op, Kind: kind, Outcome: OutcomeRejected, Code: code, Log: log}
}

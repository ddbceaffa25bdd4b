package ledger

import (
	"errors"
	"fmt"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/chain"
)

// Kind classifies a coordinator failure
type Kind string

const (
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindUnauthorizedTransfer  Kind = "unauthorized_transfer"
	KindChainUnavailable      Kind = "chain_unavailable"
	KindChainExecution        Kind = "chain_execution"
	KindConsistencyDivergence Kind = "consistency_divergence"
	// KindDependencyUnavailable covers the relational store and the lock backend
	KindDependencyUnavailable Kind = "dependency_unavailable"
)

// Outcome tells the caller what state the two ledgers were left in
type Outcome string

const (
	// OutcomeNotApplied means neither ledger changed; a retry is safe
	OutcomeNotApplied Outcome = "not_applied"
	// OutcomeRelationalOnly means only the relational ledger holds the change
	OutcomeRelationalOnly Outcome = "relational_only"
	// OutcomeChainOnly means the chain committed but the relational ledger did not follow
	OutcomeChainOnly Outcome = "chain_only"
	// OutcomeUnknown means the chain may or may not have committed
	OutcomeUnknown Outcome = "unknown"
)

// Error codes carried alongside Kind
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeQRHashCollision     = "QR_HASH_COLLISION"
	CodeUnknownManufacturer = "UNKNOWN_MANUFACTURER"
	CodeProductPending      = "PRODUCT_PENDING"
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
	CodeInvalidRecipient    = "INVALID_RECIPIENT"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeNotCurrentOwner     = "NOT_CURRENT_OWNER"
	CodeChainUnavailable    = "CHAIN_UNAVAILABLE"
	CodeChainReverted       = "CHAIN_REVERTED"
	CodeCompensationFailed  = "COMPENSATION_FAILED"
	CodeTransferNotRecorded = "TRANSFER_NOT_RECORDED"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeFlagUnresolved      = "FLAG_UNRESOLVED"
	CodeProductBusy         = "PRODUCT_BUSY"
)

// Error is returned by every Coordinator and Reconciler operation
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Outcome Outcome
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s [%s/%s]: %s", e.Code, e.Kind, e.Outcome, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == "" && t.Kind == e.Kind
}

var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrUnauthorizedTransfer  = &Error{Kind: KindUnauthorizedTransfer}
	ErrChainUnavailable      = &Error{Kind: KindChainUnavailable}
	ErrChainExecution        = &Error{Kind: KindChainExecution}
	ErrConsistencyDivergence = &Error{Kind: KindConsistencyDivergence}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
)

func validationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Outcome: OutcomeNotApplied}
}

func notFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message, Outcome: OutcomeNotApplied}
}

// storeError wraps a relational failure that happened before anything was written
func storeError(message string, err error) *Error {
	return &Error{Kind: KindDependencyUnavailable, Code: CodeStoreUnavailable, Message: message, Outcome: OutcomeNotApplied, Err: err}
}

// fromChainError maps an adapter failure onto the coordinator taxonomy.
// outcome is what the relational ledger holds if the chain did not commit.
func fromChainError(err error, outcome Outcome) *Error {
	var chainErr *chain.Error
	if !errors.As(err, &chainErr) {
		return &Error{Kind: KindChainUnavailable, Code: CodeChainUnavailable, Message: "chain call failed", Outcome: outcome, Err: err}
	}

	switch chainErr.Kind {
	case chain.KindUnauthorized:
		return &Error{Kind: KindUnauthorizedTransfer, Code: CodeNotCurrentOwner, Message: "chain rejected transfer: sender is not the current owner", Outcome: outcome, Err: err}
	case chain.KindExecution, chain.KindNotFound:
		return &Error{Kind: KindChainExecution, Code: CodeChainReverted, Message: "chain call reverted", Outcome: outcome, Err: err}
	}

	if chainErr.Outcome == chain.OutcomeUnknown {
		return &Error{Kind: KindChainUnavailable, Code: CodeChainUnavailable, Message: "chain call timed out after submission", Outcome: OutcomeUnknown, Err: err}
	}
	return &Error{Kind: KindChainUnavailable, Code: CodeChainUnavailable, Message: "chain unreachable", Outcome: outcome, Err: err}
}

package chain

import (
	"errors"
	"fmt"

	"rewardmint/pkg/errutil"
)

type Kind string

const (
	KindConnection          Kind = "connection"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindOwnership           Kind = "ownership"
	KindAllocationMismatch  Kind = "allocation_mismatch"
	KindNoPermission        Kind = "no_permission"
	KindTimeout             Kind = "timeout"
	KindUnknownDispatch     Kind = "unknown_dispatch"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrConnection          = &Error{Kind: KindConnection}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrOwnership           = &Error{Kind: KindOwnership}
	ErrAllocationMismatch  = &Error{Kind: KindAllocationMismatch}
	ErrNoPermission        = &Error{Kind: KindNoPermission}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrUnknownDispatch     = &Error{Kind: KindUnknownDispatch}
)

// Error is the typed failure surfaced by every ledger-facing component.
type Error struct {
	Kind    Kind
	Message string
	// TxHash is set once a submission was accepted by the pool.
	TxHash   string
	Dispatch *DispatchError
	// Race marks an allocation mismatch caused by a concurrent creator.
	Race bool
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Status() errutil.CoreStatus {
	switch e.Kind {
	case KindConnection:
		return errutil.StatusServiceUnavailable
	case KindInsufficientBalance, KindAllocationMismatch:
		return errutil.StatusUnprocessableEntity
	case KindOwnership, KindNoPermission:
		return errutil.StatusForbidden
	case KindTimeout:
		return errutil.StatusGatewayTimeout
	default:
		return errutil.StatusBadGateway
	}
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ConnectionError(err error, format string, args ...any) *Error {
	e := newError(KindConnection, format, args...)
	e.Err = err
	return e
}

func InsufficientBalanceError(format string, args ...any) *Error {
	return newError(KindInsufficientBalance, format, args...)
}

func OwnershipError(format string, args ...any) *Error {
	return newError(KindOwnership, format, args...)
}

func AllocationMismatchError(race bool, format string, args ...any) *Error {
	e := newError(KindAllocationMismatch, format, args...)
	e.Race = race
	return e
}

func TimeoutError(txHash string, format string, args ...any) *Error {
	e := newError(KindTimeout, format, args...)
	e.TxHash = txHash
	return e
}

// KindOf returns the kind of a chain error, or "" when err is not one.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// TxHashOf returns the transaction hash attached to a chain error.
func TxHashOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.TxHash
	}
	return ""
}

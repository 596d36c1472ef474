package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Phase int

const (
	PhaseConstructed Phase = iota
	PhaseReady
	PhaseBroadcast
	PhaseInBlock
	PhaseFinalized
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseConstructed:
		return "constructed"
	case PhaseReady:
		return "ready"
	case PhaseBroadcast:
		return "broadcast"
	case PhaseInBlock:
		return "in_block"
	case PhaseFinalized:
		return "finalized"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Lifecycle tracks one submission from construction to resolution.
// It never moves backwards and resolves exactly once.
type Lifecycle struct {
	hash     common.Hash
	registry *ErrorRegistry
	phase    Phase
	resolved bool
}

func NewLifecycle(hash common.Hash, registry *ErrorRegistry) *Lifecycle {
	return &Lifecycle{hash: hash, registry: registry}
}

func (l *Lifecycle) Phase() Phase {
	return l.phase
}

func (l *Lifecycle) Resolved() bool {
	return l.resolved
}

// Observe feeds one event. done is true on the single resolving event; err is
// non-nil when that resolution is a failure.
func (l *Lifecycle) Observe(ev TxEvent) (rcpt *Receipt, done bool, err error) {
	if l.resolved {
		return nil, false, nil
	}

	switch ev.Status {
	case TxStatusReady, TxStatusFutureQueue:
		l.advance(PhaseReady)
	case TxStatusBroadcast, TxStatusRetracted:
		l.advance(PhaseBroadcast)
	case TxStatusInBlock, TxStatusFinalized:
		l.resolved = true
		if d, failed := l.dispatchFailure(ev); failed {
			l.phase = PhaseFailed
			return nil, true, FromDispatch(d, l.hash.Hex())
		}
		if ev.Status == TxStatusFinalized {
			l.phase = PhaseFinalized
		} else {
			l.phase = PhaseInBlock
		}
		return &Receipt{Hash: l.hash, BlockHash: ev.BlockHash, Status: ev.Status}, true, nil
	case TxStatusInvalid, TxStatusDropped, TxStatusUsurped, TxStatusFinalityLimit:
		l.resolved = true
		l.phase = PhaseFailed
		return nil, true, l.poolRejection(ev)
	}
	return nil, false, nil
}

func (l *Lifecycle) advance(p Phase) {
	if p > l.phase {
		l.phase = p
	}
}

func (l *Lifecycle) dispatchFailure(ev TxEvent) (*DispatchError, bool) {
	if len(ev.DispatchError) == 0 {
		return nil, false
	}
	d, err := DecodeDispatchError(ev.DispatchError, l.registry)
	if err != nil {
		return &DispatchError{Section: "system", Name: "Undecodable", Docs: err.Error(), Raw: string(ev.DispatchError)}, true
	}
	return d, d != nil
}

func (l *Lifecycle) poolRejection(ev TxEvent) *Error {
	msg := fmt.Sprintf("transaction %s", ev.Status)
	if ev.Reason != "" {
		msg += ": " + ev.Reason
	}
	kind := KindUnknownDispatch
	if ev.Status == TxStatusInvalid && strings.Contains(strings.ToLower(ev.Reason), "pay") {
		kind = KindInsufficientBalance
	}
	return &Error{Kind: kind, Message: msg, TxHash: l.hash.Hex()}
}

// Await blocks until the watched transaction resolves. On timeout, or when the
// caller gives up, the returned TimeoutError carries the hash and the
// submission itself is left untouched.
func Await(ctx context.Context, w *Watch, timeout time.Duration, registry *ErrorRegistry) (*Receipt, error) {
	defer w.Close()

	lc := NewLifecycle(w.Hash, registry)
	hash := w.Hash.Hex()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil, TimeoutError(hash, "transaction %s: status stream closed before inclusion", hash)
			}
			rcpt, done, err := lc.Observe(ev)
			if done {
				return rcpt, err
			}
		case <-timer.C:
			return nil, TimeoutError(hash, "transaction %s not included within %s", hash, timeout)
		case <-ctx.Done():
			e := TimeoutError(hash, "transaction %s: wait cancelled", hash)
			e.Err = ctx.Err()
			return nil, e
		}
	}
}

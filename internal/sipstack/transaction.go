package sipstack

import (
	"fmt"
	"sync"
	"time"
)

// Timer constants per RFC 3261 §17.
var (
	T1 = 500 * time.Millisecond
	T2 = 4 * time.Second
	T4 = 5 * time.Second
)

// TxState enumerates the states shared across the four transaction kinds;
// not every state is reachable by every kind (e.g. only client transactions
// use Calling).
type TxState int

const (
	TxStateCalling TxState = iota
	TxStateTrying
	TxStateProceeding
	TxStateCompleted
	TxStateConfirmed
	TxStateTerminated
)

// TxEvent is delivered on a transaction's Events channel so that a UASTsx or
// UACTsx can react to state transitions (SPEC_FULL §4.4 "Stack transaction
// state events") without polling.
type TxEvent int

const (
	EventCompleted TxEvent = iota
	EventDestroyed
	// EventNoResponse fires exactly once, before EventDestroyed, when a
	// client transaction gives up without ever receiving a SIP response:
	// Timer B/F expiry or a transport error on send. UACTsx.onNoResponse
	// (which calls UASTsx.onClientNotRespondingLocked) is the only thing
	// that should react to it; normal final responses
	// never raise it, even a synthesized local one.
	EventNoResponse
)

// BaseTransaction is the minimal surface every transaction kind exposes.
type BaseTransaction interface {
	ID() string
	Events() <-chan TxEvent
	Terminate()
}

// ServerTransaction is a stack-owned UAS transaction.
type ServerTransaction interface {
	BaseTransaction
	Receive(*Request)
	Respond(*Response) error
}

// ClientTransaction is a stack-owned UAC transaction.
type ClientTransaction interface {
	BaseTransaction
	ReceiveResponse(*Response)
	Responses() <-chan *Response
	Request() *Request
}

// emitter is embedded by every transaction implementation. Events is a
// single-consumer channel meant for the one engine object (UASTsx/UACTsx)
// driving this transaction; done is a broadcast close usable by any number
// of observers (e.g. TransactionManager's own cleanup goroutine) that only
// care "is this transaction gone yet," not the full event sequence.
type emitter struct {
	mu     sync.Mutex
	events chan TxEvent
	done   chan struct{}
	closed bool
}

func newEmitter() *emitter {
	return &emitter{events: make(chan TxEvent, 4), done: make(chan struct{})}
}

func (e *emitter) Events() <-chan TxEvent  { return e.events }
func (e *emitter) Done() <-chan struct{}   { return e.done }

func (e *emitter) emit(ev TxEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
	}
	if ev == EventDestroyed {
		e.closed = true
		close(e.events)
		close(e.done)
	}
}

// TransactionManager is a branch-ID-keyed registry of in-flight stack
// transactions, used by the stack layer itself to demultiplex incoming
// retransmissions and responses onto the right state machine.
type TransactionManager struct {
	mu   sync.RWMutex
	txns map[string]BaseTransaction
}

// NewTransactionManager returns an empty manager.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{txns: make(map[string]BaseTransaction)}
}

// Add registers tx and schedules its automatic removal once destroyed.
func (tm *TransactionManager) Add(tx BaseTransaction) {
	tm.mu.Lock()
	tm.txns[tx.ID()] = tx
	tm.mu.Unlock()

	if d, ok := tx.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			<-d.Done()
			tm.remove(tx.ID())
		}()
	}
}

func (tm *TransactionManager) remove(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.txns, id)
}

// Get looks up a transaction by branch ID.
func (tm *TransactionManager) Get(id string) (BaseTransaction, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	tx, ok := tm.txns[id]
	return tx, ok
}

func branchOf(req *Request) (string, error) {
	branch := req.Branch()
	if branch == "" {
		return "", fmt.Errorf("sipstack: request is missing a Via branch parameter")
	}
	return branch, nil
}

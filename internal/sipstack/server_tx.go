package sipstack

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NonInviteServerTx implements the non-INVITE server transaction FSM
// (RFC 3261 §17.2.2).
type NonInviteServerTx struct {
	*emitter
	id           string
	originalReq  *Request
	lastResponse *Response
	state        TxState
	mu           sync.Mutex
	timerJ       *time.Timer
	transport    Transport
	log          *slog.Logger
}

// NewNonInviteServerTx creates and starts a non-INVITE server transaction
// bound to transport, which the proxy core will have already resolved from
// the received request's source address.
func NewNonInviteServerTx(req *Request, transport Transport, log *slog.Logger) (ServerTransaction, error) {
	branch, err := branchOf(req)
	if err != nil {
		return nil, err
	}
	tx := &NonInviteServerTx{
		emitter:     newEmitter(),
		id:          branch,
		originalReq: req,
		state:       TxStateTrying,
		transport:   transport,
		log:         log,
	}
	return tx, nil
}

func (tx *NonInviteServerTx) ID() string { return tx.id }

func (tx *NonInviteServerTx) Terminate() {
	tx.mu.Lock()
	if tx.state == TxStateTerminated {
		tx.mu.Unlock()
		return
	}
	tx.state = TxStateTerminated
	if tx.timerJ != nil {
		tx.timerJ.Stop()
	}
	tx.mu.Unlock()
	tx.emit(EventDestroyed)
}

// Receive handles a retransmission of the request by re-sending the last
// response, if any.
func (tx *NonInviteServerTx) Receive(req *Request) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == TxStateProceeding || tx.state == TxStateCompleted {
		if tx.lastResponse != nil {
			tx.send(tx.lastResponse)
		}
	}
}

// Respond sends a response and advances the FSM.
func (tx *NonInviteServerTx) Respond(res *Response) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == TxStateTerminated {
		return fmt.Errorf("sipstack: transaction %s already terminated", tx.id)
	}
	if tx.state == TxStateCompleted {
		return nil
	}
	tx.lastResponse = res
	tx.send(res)
	if res.StatusCode >= 200 {
		tx.state = TxStateCompleted
		tx.emit(EventCompleted)
		if tx.transport.Proto() == "TCP" {
			tx.timerJ = time.AfterFunc(0, tx.Terminate)
		} else {
			tx.timerJ = time.AfterFunc(64*T1, tx.Terminate)
		}
	} else {
		tx.state = TxStateProceeding
	}
	return nil
}

func (tx *NonInviteServerTx) send(res *Response) {
	if _, err := tx.transport.Write([]byte(res.String())); err != nil {
		tx.log.Warn("transport error sending response", "tx", tx.id, "err", err)
	}
}

// InviteServerTx implements the INVITE server transaction FSM (§17.2.1).
type InviteServerTx struct {
	*emitter
	id           string
	originalReq  *Request
	lastResponse *Response
	state        TxState
	mu           sync.Mutex
	timerG       *time.Timer
	timerH       *time.Timer
	timerI       *time.Timer
	transport    Transport
	log          *slog.Logger
}

// NewInviteServerTx creates a new INVITE server transaction. It does not
// send 100 Trying itself — SPEC_FULL §4.4 step 8 makes that conditional on
// configuration and is the UASTsx's responsibility.
func NewInviteServerTx(req *Request, transport Transport, log *slog.Logger) (ServerTransaction, error) {
	branch, err := branchOf(req)
	if err != nil {
		return nil, err
	}
	return &InviteServerTx{
		emitter:     newEmitter(),
		id:          branch,
		originalReq: req,
		state:       TxStateProceeding,
		transport:   transport,
		log:         log,
	}, nil
}

func (tx *InviteServerTx) ID() string { return tx.id }

func (tx *InviteServerTx) Terminate() {
	tx.mu.Lock()
	if tx.state == TxStateTerminated {
		tx.mu.Unlock()
		return
	}
	tx.state = TxStateTerminated
	stopAll(tx.timerG, tx.timerH, tx.timerI)
	tx.mu.Unlock()
	tx.emit(EventDestroyed)
}

func (tx *InviteServerTx) Receive(req *Request) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if req.Method == "ACK" {
		if tx.state == TxStateCompleted {
			tx.state = TxStateConfirmed
			stopAll(tx.timerG, tx.timerH)
			tx.timerI = time.AfterFunc(T4, tx.Terminate)
		}
		return
	}
	if (tx.state == TxStateProceeding || tx.state == TxStateCompleted) && tx.lastResponse != nil {
		tx.send(tx.lastResponse)
	}
}

func (tx *InviteServerTx) Respond(res *Response) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == TxStateTerminated {
		return fmt.Errorf("sipstack: transaction %s already terminated", tx.id)
	}
	tx.lastResponse = res
	tx.send(res)
	switch {
	case res.StatusCode < 200:
		// provisional, no state change
	case res.StatusCode < 300:
		tx.state = TxStateTerminated
		stopAll(tx.timerG, tx.timerH, tx.timerI)
		tx.emit(EventDestroyed)
	default:
		tx.state = TxStateCompleted
		tx.emit(EventCompleted)
		tx.startTimerG()
		tx.timerH = time.AfterFunc(64*T1, tx.Terminate)
	}
	return nil
}

func (tx *InviteServerTx) startTimerG() {
	if tx.transport.Proto() == "TCP" {
		return
	}
	interval := T1
	var fire func()
	fire = func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		if tx.state != TxStateCompleted {
			return
		}
		tx.send(tx.lastResponse)
		interval *= 2
		if interval > T2 {
			interval = T2
		}
		tx.timerG = time.AfterFunc(interval, fire)
	}
	tx.timerG = time.AfterFunc(interval, fire)
}

func (tx *InviteServerTx) send(res *Response) {
	if _, err := tx.transport.Write([]byte(res.String())); err != nil {
		tx.log.Warn("transport error sending response", "tx", tx.id, "err", err)
	}
}

func stopAll(timers ...*time.Timer) {
	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
}

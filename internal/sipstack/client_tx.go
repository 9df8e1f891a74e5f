package sipstack

import (
	"log/slog"
	"sync"
	"time"
)

// NonInviteClientTx implements the non-INVITE client transaction FSM (§17.1.2).
type NonInviteClientTx struct {
	*emitter
	id        string
	request   *Request
	state     TxState
	mu        sync.Mutex
	timerE    *time.Timer
	timerF    *time.Timer
	timerK    *time.Timer
	responses chan *Response
	transport Transport
	log       *slog.Logger
}

// NewNonInviteClientTx creates and immediately starts sending req over transport.
func NewNonInviteClientTx(req *Request, transport Transport, log *slog.Logger) (ClientTransaction, error) {
	branch, err := branchOf(req)
	if err != nil {
		return nil, err
	}
	tx := &NonInviteClientTx{
		emitter:   newEmitter(),
		id:        branch,
		request:   req,
		state:     TxStateTrying,
		responses: make(chan *Response, 4),
		transport: transport,
		log:       log,
	}
	tx.start()
	return tx, nil
}

func (tx *NonInviteClientTx) ID() string               { return tx.id }
func (tx *NonInviteClientTx) Responses() <-chan *Response { return tx.responses }
func (tx *NonInviteClientTx) Request() *Request        { return tx.request }

func (tx *NonInviteClientTx) Terminate() {
	tx.mu.Lock()
	if tx.state == TxStateTerminated {
		tx.mu.Unlock()
		return
	}
	tx.state = TxStateTerminated
	stopAll(tx.timerE, tx.timerF, tx.timerK)
	tx.mu.Unlock()
	tx.emit(EventDestroyed)
}

func (tx *NonInviteClientTx) ReceiveResponse(res *Response) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == TxStateTerminated || tx.state == TxStateCompleted {
		return
	}
	tx.deliver(res)
	if res.StatusCode >= 200 {
		tx.state = TxStateCompleted
		tx.emit(EventCompleted)
		stopAll(tx.timerE, tx.timerF)
		tx.timerK = time.AfterFunc(T4, tx.Terminate)
	} else {
		tx.state = TxStateProceeding
	}
}

func (tx *NonInviteClientTx) deliver(res *Response) {
	select {
	case tx.responses <- res:
	default:
		tx.log.Warn("dropping response, channel full", "tx", tx.id)
	}
}

func (tx *NonInviteClientTx) start() {
	tx.sendRequest()
	tx.timerF = time.AfterFunc(64*T1, func() {
		tx.mu.Lock()
		if tx.state == TxStateTerminated || tx.state == TxStateCompleted {
			tx.mu.Unlock()
			return
		}
		tx.mu.Unlock()
		tx.emit(EventNoResponse)
		tx.Terminate()
	})
	tx.startTimerE(T1)
}

func (tx *NonInviteClientTx) startTimerE(interval time.Duration) {
	if tx.transport.Proto() == "TCP" {
		return
	}
	tx.timerE = time.AfterFunc(interval, func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		if tx.state != TxStateTrying && tx.state != TxStateProceeding {
			return
		}
		tx.sendRequest()
		next := interval * 2
		if tx.state == TxStateProceeding || next > T2 {
			next = T2
		}
		tx.timerE = time.AfterFunc(next, func() { tx.startTimerE(next) })
	})
}

func (tx *NonInviteClientTx) sendRequest() {
	if _, err := tx.transport.Write([]byte(tx.request.String())); err != nil {
		tx.log.Warn("transport error sending request", "tx", tx.id, "err", err)
		tx.emit(EventNoResponse)
		tx.Terminate()
	}
}

// InviteClientTx implements the INVITE client transaction FSM (§17.1.1).
type InviteClientTx struct {
	*emitter
	id        string
	request   *Request
	state     TxState
	mu        sync.Mutex
	timerA    *time.Timer
	timerB    *time.Timer
	timerD    *time.Timer
	responses chan *Response
	transport Transport
	log       *slog.Logger
}

// NewInviteClientTx creates and immediately starts sending req over transport.
func NewInviteClientTx(req *Request, transport Transport, log *slog.Logger) (ClientTransaction, error) {
	branch, err := branchOf(req)
	if err != nil {
		return nil, err
	}
	tx := &InviteClientTx{
		emitter:   newEmitter(),
		id:        branch,
		request:   req,
		state:     TxStateCalling,
		responses: make(chan *Response, 4),
		transport: transport,
		log:       log,
	}
	tx.start()
	return tx, nil
}

func (tx *InviteClientTx) ID() string               { return tx.id }
func (tx *InviteClientTx) Responses() <-chan *Response { return tx.responses }
func (tx *InviteClientTx) Request() *Request        { return tx.request }

func (tx *InviteClientTx) Terminate() {
	tx.mu.Lock()
	if tx.state == TxStateTerminated {
		tx.mu.Unlock()
		return
	}
	tx.state = TxStateTerminated
	stopAll(tx.timerA, tx.timerB, tx.timerD)
	tx.mu.Unlock()
	tx.emit(EventDestroyed)
}

func (tx *InviteClientTx) ReceiveResponse(res *Response) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == TxStateTerminated {
		return
	}

	switch {
	case res.StatusCode < 200:
		if tx.state == TxStateCalling {
			tx.state = TxStateProceeding
			if tx.timerA != nil {
				tx.timerA.Stop()
			}
		}
		tx.deliver(res)

	case res.StatusCode < 300:
		if tx.state == TxStateCalling || tx.state == TxStateProceeding {
			tx.state = TxStateTerminated
			tx.deliver(res)
			tx.emit(EventDestroyed)
		}

	default:
		if tx.state == TxStateCalling || tx.state == TxStateProceeding {
			tx.state = TxStateCompleted
			tx.emit(EventCompleted)
			tx.deliver(res)
			tx.sendAck(res)
			timerD := 32 * time.Second
			if tx.transport.Proto() == "TCP" {
				timerD = 0
			}
			tx.timerD = time.AfterFunc(timerD, tx.Terminate)
		} else if tx.state == TxStateCompleted {
			tx.sendAck(res)
		}
	}
}

func (tx *InviteClientTx) deliver(res *Response) {
	select {
	case tx.responses <- res:
	default:
		tx.log.Warn("dropping response, channel full", "tx", tx.id)
	}
}

func (tx *InviteClientTx) sendAck(res *Response) {
	ack := BuildAck(res, tx.request)
	if _, err := tx.transport.Write([]byte(ack.String())); err != nil {
		tx.log.Warn("transport error sending ACK", "tx", tx.id, "err", err)
	}
}

func (tx *InviteClientTx) start() {
	tx.sendRequest()
	tx.timerB = time.AfterFunc(64*T1, func() {
		tx.mu.Lock()
		if tx.state == TxStateTerminated {
			tx.mu.Unlock()
			return
		}
		tx.mu.Unlock()
		tx.emit(EventNoResponse)
		tx.Terminate()
	})
	tx.startTimerA(T1)
}

func (tx *InviteClientTx) startTimerA(interval time.Duration) {
	if tx.transport.Proto() == "TCP" {
		return
	}
	tx.timerA = time.AfterFunc(interval, func() {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		if tx.state != TxStateCalling {
			return
		}
		tx.sendRequest()
		next := interval * 2
		tx.timerA = time.AfterFunc(next, func() { tx.startTimerA(next) })
	})
}

func (tx *InviteClientTx) sendRequest() {
	if _, err := tx.transport.Write([]byte(tx.request.String())); err != nil {
		tx.log.Warn("transport error sending request", "tx", tx.id, "err", err)
		tx.emit(EventNoResponse)
		tx.Terminate()
	}
}

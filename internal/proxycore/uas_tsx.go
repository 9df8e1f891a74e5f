package proxycore

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sipcore/proxy/internal/sipstack"
)

// UASTsx is the server-side fork coordinator: it owns the set of targets
// computed for an incoming request, the UACTsx children dispatched to
// reach them, and the best-response reconciliation that ultimately
// produces the one final response the UAS transaction emits (SPEC_FULL §3,
// §4.4).
type UASTsx struct {
	groupLock *groupLock
	ctx       contextState

	dispatcher *Dispatcher
	stackTsx   sipstack.ServerTransaction

	originalRequest *sipstack.Request
	children        []*UACTsx
	pendingCount    int
	bestResponse    *sipstack.Response
	localTryingSent bool
	finalSent       bool

	trail string
	log   *slog.Logger
}

func newUASTsx(d *Dispatcher, trail string) *UASTsx {
	return &UASTsx{
		groupLock: newGroupLock(),
		dispatcher: d,
		trail:      trail,
		log:        d.log,
	}
}

func (u *UASTsx) lock() *groupLock            { return u.groupLock }
func (u *UASTsx) contextState() *contextState { return &u.ctx }

// Init performs the sequence in SPEC_FULL §4.4 "Initialization": create and
// bind the stack UAS transaction, pre-build the 408 template, and emit an
// immediate 100 Trying for INVITEs unless configured to delay it.
func (u *UASTsx) Init(req *sipstack.Request, transport sipstack.Transport, registry *TransactionRegistry, tm *sipstack.TransactionManager, delayTrying bool) error {
	guard := enterContext(u)
	defer guard.Exit()

	u.originalRequest = req

	var tsx sipstack.ServerTransaction
	var err error
	if req.Method == "INVITE" {
		tsx, err = sipstack.NewInviteServerTx(req, transport, u.log)
	} else {
		tsx, err = sipstack.NewNonInviteServerTx(req, transport, u.log)
	}
	if err != nil {
		return fmt.Errorf("proxycore: creating server transaction: %w", err)
	}
	u.stackTsx = tsx
	registry.BindUAS(tsx, u)
	if req.Method != "CANCEL" {
		// A CANCEL shares its INVITE's branch; registering it would replace
		// the INVITE server transaction's entry.
		tm.Add(tsx)
	}

	u.bestResponse = &sipstack.Response{
		Proto:      req.Proto,
		StatusCode: 408,
		Reason:     reasonPhrase(408),
	}

	u.log.Info("uas transaction started", "trail", u.trail, "method", req.Method, "call_id", req.CallID())

	if req.Method == "INVITE" && !delayTrying {
		trying := sipstack.BuildResponse(100, reasonPhrase(100), req, false)
		if err := u.stackTsx.Respond(trying); err != nil {
			u.log.Warn("failed to send immediate 100 Trying", "trail", u.trail, "err", err)
		} else {
			u.localTryingSent = true
		}
	}

	go u.watchStack(registry)
	return nil
}

func (u *UASTsx) watchStack(registry *TransactionRegistry) {
	for ev := range u.stackTsx.Events() {
		switch ev {
		case sipstack.EventCompleted:
			u.onTsxCompleted()
		case sipstack.EventDestroyed:
			registry.UnbindUAS(u.stackTsx)
			u.onTsxDestroyed()
		}
	}
}

func (u *UASTsx) onTsxCompleted() {
	guard := enterContext(u)
	defer guard.Exit()
	u.log.Debug("uas transaction completed", "trail", u.trail)
}

func (u *UASTsx) onTsxDestroyed() {
	guard := enterContext(u)
	defer guard.Exit()
	if u.originalRequest.Method == "INVITE" {
		u.cancelPendingUACTsxLocked(0, true)
	}
	markPendingDestroy(u, func() {})
}

// InitUACTransactions implements SPEC_FULL §4.4 "Fork dispatch": clone the
// original request per target, stand up a UACTsx for each, and send. Any
// failure mid-loop tears down everything created so far and responds 500.
func (u *UASTsx) InitUACTransactions(targets []*Target, registry *TransactionRegistry, dial func(*sipstack.Request) (sipstack.Transport, error)) {
	guard := enterContext(u)
	defer guard.Exit()

	created := make([]*UACTsx, 0, len(targets))
	for i, t := range targets {
		child := newUACTsx(u, len(u.children)+i)
		child.initLocked(u.originalRequest)
		child.setTargetLocked(t)
		if err := child.sendRequestLocked(registry, dial); err != nil {
			u.log.Warn("failed to dispatch forked branch", "trail", u.trail, "err", err)
			for _, c := range created {
				c.dissociate()
				c.stackTsx.Terminate()
			}
			u.sendFinal(&sipstack.Response{Proto: u.originalRequest.Proto, StatusCode: 500, Reason: reasonPhrase(500)})
			return
		}
		created = append(created, child)
	}

	for _, c := range created {
		u.children = append(u.children, c)
		u.pendingCount++
	}
	u.recordForksStarted(len(created))
}

// onNewClientResponseLocked implements SPEC_FULL §4.4 "Response
// reconciliation." The caller (UACTsx.onResponse) already holds the shared
// group lock.
func (u *UASTsx) onNewClientResponseLocked(index int, resp *sipstack.Response) {
	if index < 0 || index >= len(u.children) || u.children[index] == nil {
		return // already dissociated; this is a late response, SPEC_FULL §4.8 territory upstream
	}

	if resp.StatusCode == 100 {
		if u.originalRequest.Method == "INVITE" && u.localTryingSent {
			return
		}
	}

	if resp.StatusCode < 200 {
		_ = u.stackTsx.Respond(resp)
		return
	}

	child := u.children[index]
	child.dissociate()
	u.children[index] = nil
	u.pendingCount--

	isSuccess := resp.StatusCode < 300 && (u.originalRequest.Method != "INVITE" || resp.StatusCode == 200)
	if isSuccess {
		u.bestResponse = resp
		if u.originalRequest.Method == "INVITE" {
			u.cancelPendingUACTsxLocked(0, true)
		}
		u.onFinalResponseLocked()
		return
	}

	if IsBetter(resp.StatusCode, u.bestResponse.StatusCode) {
		u.bestResponse = resp
	}
	if resp.StatusCode >= 600 && u.originalRequest.Method == "INVITE" {
		u.cancelPendingUACTsxLocked(0, true)
	}
	if u.pendingCount <= 0 {
		u.onFinalResponseLocked()
	}
}

// onClientNotRespondingLocked implements SPEC_FULL §4.4 "Child
// timeout/transport failure."
func (u *UASTsx) onClientNotRespondingLocked(index int) {
	if index < 0 || index >= len(u.children) || u.children[index] == nil {
		return
	}
	child := u.children[index]
	child.dissociate()
	u.children[index] = nil
	u.pendingCount--
	if u.pendingCount <= 0 {
		u.onFinalResponseLocked()
	}
}

// RespondDirect sends an immediate final response that was never routed
// through fork reconciliation, e.g. the 404 from an empty CalculateTargets
// or the 200 OK a CANCEL's own UAS transaction sends to acknowledge itself
// (SPEC_FULL §4.4, §4.7).
func (u *UASTsx) RespondDirect(statusCode int, reason string) {
	guard := enterContext(u)
	defer guard.Exit()
	u.bestResponse = sipstack.BuildResponse(statusCode, reason, u.originalRequest, true)
	u.onFinalResponseLocked()
}

func (u *UASTsx) onFinalResponseLocked() {
	if u.finalSent {
		return
	}
	u.finalSent = true
	u.sendFinal(u.bestResponse)
}

func (u *UASTsx) sendFinal(resp *sipstack.Response) {
	if err := u.stackTsx.Respond(resp); err != nil {
		u.log.Warn("failed to send final response", "trail", u.trail, "err", err)
	}
	u.recordFinalResponse(resp.StatusCode)
}

func (u *UASTsx) recordForksStarted(n int) {
	if n == 0 || u.dispatcher == nil || u.dispatcher.metrics == nil {
		return
	}
	u.dispatcher.metrics.ForksStarted.Add(float64(n))
}

func (u *UASTsx) recordFinalResponse(statusCode int) {
	if u.dispatcher == nil || u.dispatcher.metrics == nil {
		return
	}
	u.dispatcher.metrics.FinalResponses.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (u *UASTsx) recordCancelSent() {
	if u.dispatcher == nil || u.dispatcher.metrics == nil {
		return
	}
	u.dispatcher.metrics.CancelsSent.Inc()
}

// CancelPendingUACTsx is the exported entry point dispatcher.go uses to
// drive SPEC_FULL §4.7's CANCEL handling; it acquires the group lock.
func (u *UASTsx) CancelPendingUACTsx(stCode int, dissociate bool) {
	guard := enterContext(u)
	defer guard.Exit()
	u.cancelPendingUACTsxLocked(stCode, dissociate)
}

func (u *UASTsx) cancelPendingUACTsxLocked(stCode int, dissociateFlag bool) {
	for i, c := range u.children {
		if c == nil {
			continue
		}
		c.cancelPendingTsx(stCode)
		u.recordCancelSent()
		if dissociateFlag {
			c.dissociate()
			u.children[i] = nil
			u.pendingCount--
		}
	}
}

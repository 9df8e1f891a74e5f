package proxycore

import (
	"fmt"
	"log/slog"

	"github.com/sipcore/proxy/internal/sipstack"
)

// UACTsx is one client-side leaf of a fork: it owns a cloned request, drives
// its send/cancel lifecycle, and delivers responses back to its parent
// UASTsx (SPEC_FULL §3, §4.4).
type UACTsx struct {
	groupLock *groupLock
	ctx       contextState

	parent *UASTsx // nulled on dissociation
	index  int

	tdata     *sipstack.Request
	stackTsx  sipstack.ClientTransaction
	transport sipstack.Transport
	trail     string
	log       *slog.Logger
}

func newUACTsx(parent *UASTsx, index int) *UACTsx {
	return &UACTsx{
		groupLock: parent.groupLock,
		parent:    parent,
		index:     index,
		trail:     parent.trail,
		log:       parent.log,
	}
}

func (u *UACTsx) lock() *groupLock          { return u.groupLock }
func (u *UACTsx) contextState() *contextState { return &u.ctx }

// initLocked clones origReq into this leaf's owned copy. It does not yet
// create the stack transaction — setTargetLocked must run first so the wire
// form sent on the network already reflects the chosen target (SPEC_FULL
// §4.4). The caller must already hold the group lock (via enterContext).
func (u *UACTsx) initLocked(origReq *sipstack.Request) {
	u.tdata = origReq.Clone()
}

// setTargetLocked applies target's URI/route rewriting to the owned request
// clone and adopts its pinned transport, if any. The Target's transport
// reference becomes exclusively owned by this UACTsx from this point on
// (SPEC_FULL §5). The caller must already hold the group lock.
func (u *UACTsx) setTargetLocked(t *Target) {
	t.Apply(u.tdata)
	if t.Transport != nil {
		u.transport = t.Transport.Ref()
	}
}

// sendRequestLocked creates the underlying stack client transaction, which
// transmits the first copy of the request, binds it into registry, and
// starts the goroutine that watches for responses and stack events. The
// caller must already hold the group lock.
func (u *UACTsx) sendRequestLocked(registry *TransactionRegistry, dial func(req *sipstack.Request) (sipstack.Transport, error)) error {
	transport := u.transport
	if transport == nil {
		t, err := dial(u.tdata)
		if err != nil {
			return fmt.Errorf("proxycore: resolving transport for target: %w", err)
		}
		transport = t
	}
	u.transport = transport

	var tsx sipstack.ClientTransaction
	var err error
	if u.tdata.Method == "INVITE" {
		tsx, err = sipstack.NewInviteClientTx(u.tdata, transport, u.log)
	} else {
		tsx, err = sipstack.NewNonInviteClientTx(u.tdata, transport, u.log)
	}
	if err != nil {
		return fmt.Errorf("proxycore: creating client transaction: %w", err)
	}
	u.stackTsx = tsx
	registry.BindUAC(tsx, u)
	go u.watch(registry)
	return nil
}

// watch pumps responses and lifecycle events from the stack transaction up
// to the parent UASTsx. It runs for the lifetime of the stack transaction.
func (u *UACTsx) watch(registry *TransactionRegistry) {
	responses := u.stackTsx.Responses()
	events := u.stackTsx.Events()
	for {
		select {
		case resp, ok := <-responses:
			if !ok {
				responses = nil
				continue
			}
			u.onResponse(resp)
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev {
			case sipstack.EventNoResponse:
				u.onNoResponse()
			case sipstack.EventDestroyed:
				registry.UnbindUAC(u.stackTsx)
				u.onDestroyed()
			}
		}
	}
}

func (u *UACTsx) onResponse(resp *sipstack.Response) {
	guard := enterContext(u)
	defer guard.Exit()
	if u.parent == nil {
		return
	}
	u.parent.onNewClientResponseLocked(u.index, resp)
}

func (u *UACTsx) onNoResponse() {
	guard := enterContext(u)
	defer guard.Exit()
	if u.parent == nil {
		return
	}
	u.parent.onClientNotRespondingLocked(u.index)
}

func (u *UACTsx) onDestroyed() {
	guard := enterContext(u)
	defer guard.Exit()
	markPendingDestroy(u, func() {})
}

// cancelPendingTsx sends a CANCEL for this leaf if it hasn't yet received a
// final response. stCode, if non-zero, is carried as a Reason header on the
// CANCEL (SPEC_FULL §4.7). The caller must already hold the group lock.
func (u *UACTsx) cancelPendingTsx(stCode int) {
	if u.stackTsx == nil || u.tdata == nil {
		return
	}
	cancel := buildCancel(u.tdata, stCode)
	if u.transport != nil {
		_, _ = u.transport.Write([]byte(cancel.String()))
	}
}

// dissociate nulls the back-reference from this leaf to its parent, as
// SPEC_FULL §4.4/§9 requires before a final response is reconciled.
func (u *UACTsx) dissociate() {
	u.parent = nil
}

func buildCancel(req *sipstack.Request, stCode int) *sipstack.Request {
	cancel := &sipstack.Request{Method: "CANCEL", RequestURI: req.RequestURI.Clone(), Proto: req.Proto}
	if v := req.HeaderValue("Via"); v != "" {
		cancel.AddHeader("Via", v)
	}
	cancel.AddHeader("From", req.HeaderValue("From"))
	cancel.AddHeader("To", req.HeaderValue("To"))
	cancel.AddHeader("Call-Id", req.HeaderValue("Call-Id"))
	seq, _ := req.CSeq()
	cancel.AddHeader("Cseq", fmt.Sprintf("%d CANCEL", seq))
	cancel.AddHeader("Max-Forwards", "70")
	if stCode != 0 {
		cancel.AddHeader("Reason", fmt.Sprintf(`SIP ;cause=%d;text="%s"`, stCode, reasonPhrase(stCode)))
	}
	return cancel
}

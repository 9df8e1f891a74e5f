package proxycore

import (
	"log/slog"

	"github.com/sipcore/proxy/internal/metrics"
	"github.com/sipcore/proxy/internal/sipstack"
)

// Dispatcher is the single entry point the transport layer hands received
// SIP messages to. It implements SPEC_FULL §4.1-§4.3 request validation and
// routing preprocessing, §4.7 CANCEL handling, and §4.8 stateless late
// response forwarding, and otherwise delegates fork coordination to the
// UASTsx/UACTsx pair the configured ProxyStrategy builds.
type Dispatcher struct {
	strategy ProxyStrategy
	registry *TransactionRegistry
	stackTM  *sipstack.TransactionManager

	homeDomain   string
	ownRouteHost string
	delayTrying  bool

	dialTarget func(req *sipstack.Request) (sipstack.Transport, error)
	dialAddr   func(host string, port int, proto string) (sipstack.Transport, error)
	nextTrail  func() string

	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewDispatcher builds a Dispatcher around the base defaultStrategy.
// ownRouteHost is the host[:port] this proxy inserts into its own
// Record-Route/Route headers, used to recognize and strip a loose route
// pointing back at itself (SPEC_FULL §4.2). m may be nil, in which case
// fork/final-response/cancel counters are simply not recorded.
func NewDispatcher(homeDomain, ownRouteHost string, delayTrying bool, dialTarget func(*sipstack.Request) (sipstack.Transport, error), dialAddr func(string, int, string) (sipstack.Transport, error), nextTrail func() string, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		registry:     NewTransactionRegistry(),
		stackTM:      sipstack.NewTransactionManager(),
		homeDomain:   homeDomain,
		ownRouteHost: ownRouteHost,
		delayTrying:  delayTrying,
		dialTarget:   dialTarget,
		dialAddr:     dialAddr,
		nextTrail:    nextTrail,
		metrics:      m,
		log:          log,
	}
	d.strategy = newDefaultStrategy(homeDomain, log)
	return d
}

// OnRxRequest is the transport layer's entry point for every inbound
// request, including ACK and CANCEL, which it hands to handleACK and
// handleCancel after validation and routing preprocessing.
func (d *Dispatcher) OnRxRequest(req *sipstack.Request, transport sipstack.Transport) {
	if req.Method != "CANCEL" && req.RequestURI.Scheme != "sip" {
		d.respondStateless(req, transport, 416)
		return
	}
	if mf, ok := req.MaxForwards(); req.Method != "CANCEL" && ok && mf <= 1 {
		d.respondStateless(req, transport, 483)
		return
	}

	explicitTarget := d.preprocessRouting(req)

	switch req.Method {
	case "ACK":
		d.handleACK(req, transport)
		return
	case "CANCEL":
		d.handleCancel(req, transport)
		return
	}

	trail := d.nextTrail()
	uas := d.strategy.NewUASTsx(d, trail)
	if err := uas.Init(req, transport, d.registry, d.stackTM, d.delayTrying); err != nil {
		d.log.Error("failed to init uas transaction", "trail", trail, "err", err)
		return
	}

	var targets []*Target
	if explicitTarget != nil {
		targets = []*Target{explicitTarget}
	} else {
		var ntErr *NoTargetError
		targets, ntErr = d.strategy.CalculateTargets(req)
		if ntErr != nil {
			uas.RespondDirect(ntErr.StatusCode, ntErr.Reason)
			return
		}
	}
	uas.InitUACTransactions(targets, d.registry, d.dialTarget)
}

// preprocessRouting implements SPEC_FULL §4.2 in full: strict-route
// recovery followed by loose-route consumption. maddr is deliberately not
// honored, matching the base S-CSCF role this dispatcher fills. It returns
// a non-nil explicit Target when the top Route is foreign, telling the
// caller to skip CalculateTargets and forward along the remaining route
// set instead.
func (d *Dispatcher) preprocessRouting(req *sipstack.Request) *Target {
	for d.isLocallyOwned(req.RequestURI) {
		routes := req.Routes()
		if len(routes) == 0 {
			break
		}
		lastIdx := len(routes) - 1
		last, err := sipstack.ParseURI(routes[lastIdx])
		if err != nil || last.LR {
			break
		}
		req.RequestURI = last
		req.RemoveHeaderAt("Route", lastIdx)
	}

	routes := req.Routes()
	if len(routes) == 0 {
		return nil
	}
	top, err := sipstack.ParseURI(routes[0])
	if err != nil {
		return nil
	}
	if d.isLocallyOwned(top) || isLocalDomain(top.Host, d.homeDomain) {
		req.RemoveHeaderAt("Route", 0)
		return nil
	}
	return &Target{URI: req.RequestURI.Clone()}
}

// isLocallyOwned reports whether u matches a URI this proxy would have
// placed in its own Record-Route/Route headers (SPEC_FULL §4.2).
func (d *Dispatcher) isLocallyOwned(u *sipstack.URI) bool {
	if u == nil || d.ownRouteHost == "" {
		return false
	}
	if u.HostPort() == d.ownRouteHost {
		return true
	}
	return u.Host == d.ownRouteHost
}

// handleACK implements SPEC_FULL §4.3: an ACK for a non-2xx final response
// shares the INVITE's branch and is absorbed by that still-live server
// transaction; an ACK for a 2xx carries a fresh branch and is forwarded
// statelessly, since the INVITE server transaction already terminated the
// instant it sent the 2xx.
func (d *Dispatcher) handleACK(req *sipstack.Request, transport sipstack.Transport) {
	if branch := req.Branch(); branch != "" {
		if tx, ok := d.stackTM.Get(branch); ok {
			if st, ok := tx.(sipstack.ServerTransaction); ok {
				st.Receive(req)
				return
			}
		}
	}
	d.forwardRequestStateless(req)
}

// handleCancel implements SPEC_FULL §4.7. A CANCEL shares its INVITE's
// branch; if no matching server transaction is found the INVITE has
// already completed or never existed, and the proxy answers 481 without
// creating any new state.
func (d *Dispatcher) handleCancel(req *sipstack.Request, transport sipstack.Transport) {
	branch := req.Branch()
	tx, ok := d.stackTM.Get(branch)
	if !ok {
		d.respondStateless(req, transport, 481)
		return
	}
	serverTx, ok := tx.(sipstack.ServerTransaction)
	if !ok {
		d.respondStateless(req, transport, 481)
		return
	}
	uas, ok := d.registry.LookupUAS(serverTx)
	if !ok {
		d.respondStateless(req, transport, 481)
		return
	}

	trail := d.nextTrail()
	cancelUas := d.strategy.NewUASTsx(d, trail)
	if err := cancelUas.Init(req, transport, d.registry, d.stackTM, false); err != nil {
		d.log.Error("failed to init cancel uas transaction", "trail", trail, "err", err)
		return
	}
	cancelUas.RespondDirect(200, reasonPhrase(200))

	uas.CancelPendingUACTsx(0, false)
}

// OnRxResponse is the transport layer's entry point for every inbound
// response. A response demultiplexes onto a live client transaction by its
// top Via branch; failing that, SPEC_FULL §4.8 stateless late-response
// forwarding applies.
func (d *Dispatcher) OnRxResponse(resp *sipstack.Response) {
	topVia := resp.HeaderValue("Via")
	via, err := sipstack.ParseVia(topVia)
	if err != nil {
		d.log.Warn("dropping response with unparseable top Via", "err", err)
		return
	}
	if tx, ok := d.stackTM.Get(via.Branch()); ok {
		if ct, ok := tx.(sipstack.ClientTransaction); ok {
			ct.ReceiveResponse(resp)
			return
		}
	}
	d.forwardResponseStateless(resp)
}

func (d *Dispatcher) forwardResponseStateless(resp *sipstack.Response) {
	fwd := resp.Clone()
	fwd.RemoveHeaderAt("Via", 0)
	topViaVal := fwd.HeaderValue("Via")
	if topViaVal == "" {
		d.log.Warn("late response forwarding: no Via remains after stripping")
		return
	}
	via, err := sipstack.ParseVia(topViaVal)
	if err != nil {
		d.log.Warn("late response forwarding: invalid Via", "err", err)
		return
	}
	host, port := via.NextHop()
	transport, err := d.dialAddr(host, port, via.Proto)
	if err != nil {
		d.log.Warn("late response forwarding: dial failed", "host", host, "port", port, "err", err)
		return
	}
	if _, err := transport.Write([]byte(fwd.String())); err != nil {
		d.log.Warn("late response forwarding: write failed", "err", err)
	}
}

func (d *Dispatcher) forwardRequestStateless(req *sipstack.Request) {
	transport, err := d.dialTarget(req)
	if err != nil {
		d.log.Warn("stateless request forwarding: dial failed", "err", err)
		return
	}
	if _, err := transport.Write([]byte(req.String())); err != nil {
		d.log.Warn("stateless request forwarding: write failed", "err", err)
	}
}

func (d *Dispatcher) respondStateless(req *sipstack.Request, transport sipstack.Transport, statusCode int) {
	resp := sipstack.BuildResponse(statusCode, reasonPhrase(statusCode), req, true)
	if _, err := transport.Write([]byte(resp.String())); err != nil {
		d.log.Warn("stateless error response: write failed", "status", statusCode, "err", err)
	}
}

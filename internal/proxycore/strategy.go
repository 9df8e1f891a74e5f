package proxycore

import (
	"log/slog"

	"github.com/sipcore/proxy/internal/sipstack"
)

// ProxyStrategy is the set of polymorphism points SPEC_FULL §9 calls out:
// deriving targets from a request, and constructing the server-side and
// client-side coordinators for it. The base ProxyDispatcher supplies
// defaultStrategy; a specialized proxy (e.g. an I-CSCF) would compose its
// own implementation in front of or instead of it.
type ProxyStrategy interface {
	CalculateTargets(req *sipstack.Request) ([]*Target, *NoTargetError)
	NewUASTsx(d *Dispatcher, trail string) *UASTsx
	NewUACTsx(parent *UASTsx, index int) *UACTsx
}

// NoTargetError carries the status code/reason CalculateTargets should
// respond with when it can produce no targets (SPEC_FULL §4.4, "otherwise
// return 404 Not Found").
type NoTargetError struct {
	StatusCode int
	Reason     string
}

func (e *NoTargetError) Error() string { return e.Reason }

// defaultStrategy implements the base policy from SPEC_FULL §4.4: route by
// Request-URI when the domain isn't home/local, otherwise 404.
type defaultStrategy struct {
	homeDomain string
	log        *slog.Logger
}

func newDefaultStrategy(homeDomain string, log *slog.Logger) *defaultStrategy {
	return &defaultStrategy{homeDomain: homeDomain, log: log}
}

func (s *defaultStrategy) CalculateTargets(req *sipstack.Request) ([]*Target, *NoTargetError) {
	if isLocalDomain(req.RequestURI.Host, s.homeDomain) {
		return nil, &NoTargetError{StatusCode: 404, Reason: "Not Found"}
	}
	return []*Target{{}}, nil
}

func (s *defaultStrategy) NewUASTsx(d *Dispatcher, trail string) *UASTsx {
	return newUASTsx(d, trail)
}

func (s *defaultStrategy) NewUACTsx(parent *UASTsx, index int) *UACTsx {
	return newUACTsx(parent, index)
}

// isLocalDomain reports whether host matches the configured home domain.
// It is the only locality check defaultStrategy.CalculateTargets makes: a
// Request-URI naming the proxy's own route host (Dispatcher.isLocallyOwned)
// but not the home domain is not treated as local by the base policy and
// is routed by Request-URI like any foreign domain.
func isLocalDomain(host, homeDomain string) bool {
	return host == homeDomain
}

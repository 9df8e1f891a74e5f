package proxycore

import "github.com/sipcore/proxy/internal/sipstack"

// Target is a value object describing where and how to forward one forked
// branch of a request. An empty Target (every field nil) means "forward
// as-is to the Request-URI" (SPEC_FULL §3).
type Target struct {
	URI       *sipstack.URI
	Paths     []*sipstack.URI // topmost first
	Transport sipstack.Transport
}

// Apply rewrites req's Request-URI and prepends Route headers per the
// target, as SPEC_FULL §4.4 "Fork dispatch" describes. It does not touch
// req's transport; the caller pins that separately once the UACTsx adopts
// the target.
func (t *Target) Apply(req *sipstack.Request) {
	if t == nil {
		return
	}
	if t.URI != nil {
		req.RequestURI = t.URI.Clone()
	}
	for i := len(t.Paths) - 1; i >= 0; i-- {
		req.PushHeaderFront("Route", "<"+t.Paths[i].String()+">")
	}
}

package raf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sipcore/proxy/internal/metrics"
	"github.com/sipcore/proxy/internal/sipstack"
)

// Filter is the Registration Authentication Filter described in SPEC_FULL
// §4.5. It runs only on REGISTER requests; Admit reports whether the
// request should be admitted downstream to the proxy core, and if not,
// supplies the response to send instead.
type Filter struct {
	realm   string
	hss     HSSClient
	store   AuthVectorStore
	avTTL   time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewFilter builds a Filter. realm is the realm advertised in AKA
// challenges, whose AV carries no realm; Digest challenges use the realm the
// HSS returns in the Digest AV. m may be nil,
// in which case auth-outcome and HSS-latency metrics are simply not recorded.
func NewFilter(realm string, hss HSSClient, store AuthVectorStore, avTTL time.Duration, m *metrics.Metrics, log *slog.Logger) *Filter {
	return &Filter{realm: realm, hss: hss, store: store, avTTL: avTTL, metrics: m, log: log}
}

// Admit implements the bypass/challenge/verify/resync decision tree.
func (f *Filter) Admit(ctx context.Context, req *sipstack.Request) (bool, *sipstack.Response) {
	if req.Method != "REGISTER" {
		return true, nil
	}

	authHeader := req.HeaderValue("Authorization")
	if authHeader == "" {
		if allContactsSOS(req) {
			f.recordOutcome("bypass-sos")
			return true, nil
		}
		return f.challenge(ctx, req, nil, false)
	}

	params := sipstack.ParseAuthParams(authHeader)

	if params["auts"] != "" {
		return f.resync(ctx, req, params)
	}
	if params["response"] != "" {
		return f.verify(ctx, req, params)
	}
	if isIntegrityAsserted(params) {
		f.recordOutcome("bypass-integrity-protected")
		return true, nil
	}
	return f.challenge(ctx, req, params, strings.EqualFold(params["integrity-protected"], "no"))
}

func (f *Filter) recordOutcome(outcome string) {
	if f.metrics == nil {
		return
	}
	f.metrics.AuthOutcomes.WithLabelValues(outcome).Inc()
}

func (f *Filter) observeHSSLatency(start time.Time) {
	if f.metrics == nil {
		return
	}
	f.metrics.HSSLatency.Observe(time.Since(start).Seconds())
}

func (f *Filter) challenge(ctx context.Context, req *sipstack.Request, params map[string]string, useAKA bool) (bool, *sipstack.Response) {
	impu := aor(req.HeaderValue("To"))
	impi := resolveIMPI(params, impu)

	if useAKA {
		hssStart := time.Now()
		av, err := f.hss.FetchAKAAV(ctx, impi, impu, "")
		f.observeHSSLatency(hssStart)
		if err != nil {
			return f.hssError(req, err)
		}
		c := &AuthChallenge{
			IMPI: impi, IMPU: impu,
			Nonce: av.Challenge, Opaque: sipstack.GenerateTag(),
			Realm: f.realm, Scheme: SchemeAKAv1MD5,
			HA1OrXRES: av.Response, CK: av.CryptKey, IK: av.IntegrityKey,
			AUTN:      av.Challenge,
			ExpiresAt: time.Now().Add(f.avTTL),
		}
		if err := f.store.Put(c); err != nil {
			return false, buildErrorResponse(req, 500, "Server Internal Error")
		}
		f.recordOutcome("challenge")
		return false, buildChallengeResponse(req, c, false)
	}

	hssStart := time.Now()
	av, err := f.hss.FetchDigestAV(ctx, impi, impu)
	f.observeHSSLatency(hssStart)
	if err != nil {
		return f.hssError(req, err)
	}
	c := &AuthChallenge{
		IMPI: impi, IMPU: impu,
		Nonce: sipstack.GenerateTag(), Opaque: sipstack.GenerateTag(),
		Realm: av.Realm, Scheme: SchemeDigestMD5, HA1OrXRES: av.HA1,
		ExpiresAt: time.Now().Add(f.avTTL),
	}
	if err := f.store.Put(c); err != nil {
		return false, buildErrorResponse(req, 500, "Server Internal Error")
	}
	f.recordOutcome("challenge")
	return false, buildChallengeResponse(req, c, false)
}

func (f *Filter) verify(ctx context.Context, req *sipstack.Request, params map[string]string) (bool, *sipstack.Response) {
	impi := resolveIMPI(params, aor(req.HeaderValue("To")))
	c, ok, err := f.store.Take(impi, params["nonce"])
	if err != nil {
		return false, buildErrorResponse(req, 500, "Server Internal Error")
	}
	if !ok {
		return f.reissueStale(ctx, req, params)
	}
	if r := params["realm"]; r != "" && r != c.Realm {
		return f.challenge(ctx, req, params, c.Scheme == SchemeAKAv1MD5)
	}

	ha1 := c.HA1OrXRES
	if c.Scheme == SchemeAKAv1MD5 {
		computed, err := akaHA1(impi, c.Realm, c.HA1OrXRES)
		if err != nil {
			f.recordOutcome("verify-fail")
			return false, buildErrorResponse(req, 403, "Forbidden")
		}
		ha1 = computed
	}

	expected := digestResponse(ha1, req.Method, params["uri"], c.Nonce, params["nc"], params["cnonce"], params["qop"])
	if expected != strings.ToLower(params["response"]) {
		f.recordOutcome("verify-fail")
		return false, buildErrorResponse(req, 403, "Forbidden")
	}
	f.recordOutcome("verify-ok")
	return true, nil
}

// reissueStale re-runs the challenge flow when the client's nonce is not
// found in the store (already consumed, expired, or never issued by this
// instance), marking the fresh challenge stale=true per SPEC_FULL §4.5
// verification step 1.
func (f *Filter) reissueStale(ctx context.Context, req *sipstack.Request, params map[string]string) (bool, *sipstack.Response) {
	useAKA := strings.EqualFold(params["algorithm"], "AKAv1-MD5")
	admitted, resp := f.challenge(ctx, req, params, useAKA)
	if !admitted && resp != nil {
		resp.SetHeader("WWW-Authenticate", resp.HeaderValue("WWW-Authenticate")+`, stale="true"`)
	}
	return admitted, resp
}

// resync implements SPEC_FULL §4.5's AKA resynchronization branch.
func (f *Filter) resync(ctx context.Context, req *sipstack.Request, params map[string]string) (bool, *sipstack.Response) {
	auts := params["auts"]
	if len(auts) != 28 || !isHex(auts) {
		return false, buildErrorResponse(req, 403, "Forbidden")
	}
	impi := resolveIMPI(params, aor(req.HeaderValue("To")))
	c, ok, err := f.store.Take(impi, params["nonce"])
	if err != nil {
		return false, buildErrorResponse(req, 500, "Server Internal Error")
	}
	if !ok {
		return f.challenge(ctx, req, params, true)
	}

	hssStart := time.Now()
	av, err := f.hss.FetchAKAAV(ctx, impi, c.IMPU, c.AUTN+auts)
	f.observeHSSLatency(hssStart)
	if err != nil {
		return f.hssError(req, err)
	}
	fresh := &AuthChallenge{
		IMPI: impi, IMPU: c.IMPU,
		Nonce: av.Challenge, Opaque: sipstack.GenerateTag(),
		Realm: c.Realm, Scheme: SchemeAKAv1MD5,
		HA1OrXRES: av.Response, CK: av.CryptKey, IK: av.IntegrityKey,
		AUTN:      av.Challenge,
		ExpiresAt: time.Now().Add(f.avTTL),
	}
	if err := f.store.Put(fresh); err != nil {
		return false, buildErrorResponse(req, 500, "Server Internal Error")
	}
	f.recordOutcome("resync")
	return false, buildChallengeResponse(req, fresh, false)
}

func (f *Filter) hssError(req *sipstack.Request, err error) (bool, *sipstack.Response) {
	switch {
	case errors.Is(err, ErrIMPINotFound):
		f.recordOutcome("hss-not-found")
		return false, buildErrorResponse(req, 403, "Forbidden")
	case errors.Is(err, ErrHSSUnavailable):
		f.recordOutcome("hss-unavailable")
		return false, buildErrorResponse(req, 504, "Server Time-out")
	default:
		f.log.Warn("hss query failed", "call_id", req.CallID(), "err", err)
		f.recordOutcome("hss-error")
		return false, buildErrorResponse(req, 403, "Forbidden")
	}
}

func buildErrorResponse(req *sipstack.Request, code int, reason string) *sipstack.Response {
	return sipstack.BuildResponse(code, reason, req, true)
}

func buildChallengeResponse(req *sipstack.Request, c *AuthChallenge, stale bool) *sipstack.Response {
	resp := sipstack.BuildResponse(401, "Unauthorized", req, true)
	var b strings.Builder
	fmt.Fprintf(&b, `Digest realm="%s", nonce="%s", opaque="%s", qop="auth", algorithm=%s`, c.Realm, c.Nonce, c.Opaque, c.Scheme)
	if stale {
		b.WriteString(`, stale="true"`)
	}
	if c.Scheme == SchemeAKAv1MD5 {
		fmt.Fprintf(&b, `, ck="%s", ik="%s"`, c.CK, c.IK)
	}
	resp.AddHeader("WWW-Authenticate", b.String())
	return resp
}

func allContactsSOS(req *sipstack.Request) bool {
	contacts := req.Contacts()
	if len(contacts) == 0 {
		return false
	}
	for _, c := range contacts {
		if !strings.Contains(strings.ToLower(c), "sos") {
			return false
		}
	}
	return true
}

func isIntegrityAsserted(params map[string]string) bool {
	switch strings.ToLower(params["integrity-protected"]) {
	case "yes", "tls-yes", "ip-assoc-yes":
		return true
	}
	return false
}

func resolveIMPI(params map[string]string, impu string) string {
	if params != nil && params["username"] != "" {
		return params["username"]
	}
	return aorUser(impu)
}

// AOR extracts the address-of-record from a To/From header value. Exported
// so the transport layer can key registrar bindings the same way RAF keys
// IMPU (SPEC_FULL §4.9).
func AOR(headerVal string) string { return aor(headerVal) }

// aor strips a header value down to its address-of-record: the bracketed
// URI if present, otherwise everything before the first parameter.
func aor(headerVal string) string {
	if i := strings.Index(headerVal, "<"); i >= 0 {
		if j := strings.Index(headerVal[i:], ">"); j >= 0 {
			return headerVal[i+1 : i+j]
		}
	}
	if i := strings.Index(headerVal, ";"); i >= 0 {
		return strings.TrimSpace(headerVal[:i])
	}
	return strings.TrimSpace(headerVal)
}

// aorUser extracts the user part of a sip: URI address-of-record.
func aorUser(aorURI string) string {
	u, err := sipstack.ParseURI(aorURI)
	if err != nil {
		return aorURI
	}
	return u.User
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

package raf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sipcore/proxy/internal/sipstack"
)

type fakeHSS struct {
	digest    *DigestAV
	aka       *AKAAV
	err       error
	fetchedAV int
}

func (f *fakeHSS) FetchDigestAV(ctx context.Context, impi, impu string) (*DigestAV, error) {
	f.fetchedAV++
	if f.err != nil {
		return nil, f.err
	}
	return f.digest, nil
}

func (f *fakeHSS) FetchAKAAV(ctx context.Context, impi, impu, autn string) (*AKAAV, error) {
	f.fetchedAV++
	if f.err != nil {
		return nil, f.err
	}
	return f.aka, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registerRequest(authHeader string) *sipstack.Request {
	req := &sipstack.Request{
		Method: "REGISTER",
		Proto:  "SIP/2.0",
	}
	uri, _ := sipstack.ParseURI("sip:sip.example.com")
	req.RequestURI = uri
	req.AddHeader("Via", "SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1")
	req.AddHeader("From", "<sip:alice@sip.example.com>;tag=abc123")
	req.AddHeader("To", "<sip:alice@sip.example.com>")
	req.AddHeader("Call-Id", "test-call-id")
	req.AddHeader("Cseq", "1 REGISTER")
	req.AddHeader("Contact", "<sip:alice@client.example.com:5060>")
	if authHeader != "" {
		req.AddHeader("Authorization", authHeader)
	}
	return req
}

func TestAdmitBypassesNonRegister(t *testing.T) {
	f := NewFilter("sip.example.com", &fakeHSS{}, NewMemoryAuthVectorStore(), time.Minute, nil, discardLogger())
	req := registerRequest("")
	req.Method = "INVITE"

	admitted, resp := f.Admit(context.Background(), req)
	if !admitted || resp != nil {
		t.Fatalf("Admit() = (%v, %v), want (true, nil) for non-REGISTER", admitted, resp)
	}
}

func TestAdmitBypassesEmergencyRegistration(t *testing.T) {
	hss := &fakeHSS{}
	f := NewFilter("sip.example.com", hss, NewMemoryAuthVectorStore(), time.Minute, nil, discardLogger())
	req := registerRequest("")
	req.SetHeader("Contact", "<sip:alice@client.example.com:5060;sos>")

	admitted, resp := f.Admit(context.Background(), req)
	if !admitted || resp != nil {
		t.Fatalf("Admit() = (%v, %v), want (true, nil) for sos contact", admitted, resp)
	}
	if hss.fetchedAV != 0 {
		t.Errorf("expected no HSS query for sos-bypassed register, got %d", hss.fetchedAV)
	}
}

func TestAdmitChallengesUnauthenticatedRegister(t *testing.T) {
	hss := &fakeHSS{digest: &DigestAV{Realm: "sip.example.com", QOP: "auth", HA1: "deadbeef"}}
	store := NewMemoryAuthVectorStore()
	f := NewFilter("sip.example.com", hss, store, time.Minute, nil, discardLogger())
	req := registerRequest("")

	admitted, resp := f.Admit(context.Background(), req)
	if admitted {
		t.Fatal("Admit() admitted an unauthenticated REGISTER")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("Admit() response = %v, want 401", resp)
	}
	if resp.HeaderValue("WWW-Authenticate") == "" {
		t.Error("401 response missing WWW-Authenticate header")
	}
}

func TestAdmitVerifiesCorrectDigestResponse(t *testing.T) {
	hss := &fakeHSS{}
	store := NewMemoryAuthVectorStore()
	f := NewFilter("sip.example.com", hss, store, time.Minute, nil, discardLogger())

	const ha1 = "939e7578ed9e3c518a452acee763bce9"
	const nonce = "dcd98b7102dd2f0e8b11d0f600bfb0c093"
	store.Put(&AuthChallenge{
		IMPI: "alice", IMPU: "sip:alice@sip.example.com",
		Nonce: nonce, Opaque: "op1", Realm: "sip.example.com",
		Scheme: SchemeDigestMD5, HA1OrXRES: ha1,
		ExpiresAt: time.Now().Add(time.Minute),
	})

	expected := digestResponse(ha1, "REGISTER", "sip:sip.example.com", nonce, "00000001", "0a4f113b", "auth")
	authHeader := fmt.Sprintf(
		`Digest username="alice", realm="sip.example.com", nonce="%s", uri="sip:sip.example.com", response="%s", nc=00000001, cnonce="0a4f113b", qop=auth`,
		nonce, expected)

	req := registerRequest(authHeader)
	admitted, resp := f.Admit(context.Background(), req)
	if !admitted || resp != nil {
		t.Fatalf("Admit() = (%v, %v), want (true, nil) for correct digest response", admitted, resp)
	}
}

func TestAdmitRejectsWrongDigestResponse(t *testing.T) {
	hss := &fakeHSS{}
	store := NewMemoryAuthVectorStore()
	f := NewFilter("sip.example.com", hss, store, time.Minute, nil, discardLogger())

	const nonce = "dcd98b7102dd2f0e8b11d0f600bfb0c093"
	store.Put(&AuthChallenge{
		IMPI: "alice", IMPU: "sip:alice@sip.example.com",
		Nonce: nonce, Opaque: "op1", Realm: "sip.example.com",
		Scheme: SchemeDigestMD5, HA1OrXRES: "939e7578ed9e3c518a452acee763bce9",
		ExpiresAt: time.Now().Add(time.Minute),
	})

	authHeader := fmt.Sprintf(
		`Digest username="alice", realm="sip.example.com", nonce="%s", uri="sip:sip.example.com", response="%s", nc=00000001, cnonce="0a4f113b", qop=auth`,
		nonce, "0000000000000000000000000000000")

	req := registerRequest(authHeader)
	admitted, resp := f.Admit(context.Background(), req)
	if admitted {
		t.Fatal("Admit() admitted a REGISTER with a wrong digest response")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("Admit() response = %v, want 403", resp)
	}
}

func TestAdmitReissuesStaleChallengeWhenNonceUnknown(t *testing.T) {
	hss := &fakeHSS{digest: &DigestAV{Realm: "sip.example.com", QOP: "auth", HA1: "deadbeef"}}
	store := NewMemoryAuthVectorStore()
	f := NewFilter("sip.example.com", hss, store, time.Minute, nil, discardLogger())

	authHeader := `Digest username="alice", realm="sip.example.com", nonce="unknown-nonce", uri="sip:sip.example.com", response="aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nc=00000001, cnonce="0a4f113b", qop=auth`
	req := registerRequest(authHeader)

	admitted, resp := f.Admit(context.Background(), req)
	if admitted {
		t.Fatal("Admit() admitted a REGISTER against an unknown nonce")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("Admit() response = %v, want 401", resp)
	}
	if want := `stale="true"`; resp.HeaderValue("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header on stale reissue")
	} else if got := resp.HeaderValue("WWW-Authenticate"); !strings.Contains(got, want) {
		t.Errorf("WWW-Authenticate = %q, want it to contain %q", got, want)
	}
}

func TestAdmitResyncRejectsMalformedAuts(t *testing.T) {
	f := NewFilter("sip.example.com", &fakeHSS{}, NewMemoryAuthVectorStore(), time.Minute, nil, discardLogger())
	authHeader := `Digest username="alice", realm="sip.example.com", nonce="n", uri="sip:sip.example.com", auts="not-hex-and-wrong-length"`
	req := registerRequest(authHeader)

	admitted, resp := f.Admit(context.Background(), req)
	if admitted {
		t.Fatal("Admit() admitted a REGISTER with a malformed auts")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("Admit() response = %v, want 403", resp)
	}
}

func TestAdmitResyncIssuesFreshChallenge(t *testing.T) {
	store := NewMemoryAuthVectorStore()
	store.Put(&AuthChallenge{
		IMPI: "alice", IMPU: "sip:alice@sip.example.com",
		Nonce: "old-nonce", Opaque: "op1", Realm: "sip.example.com",
		Scheme: SchemeAKAv1MD5, HA1OrXRES: "aa", AUTN: "bb",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	hss := &fakeHSS{aka: &AKAAV{Challenge: "new-nonce", Response: "cc", CryptKey: "ck", IntegrityKey: "ik"}}
	f := NewFilter("sip.example.com", hss, store, time.Minute, nil, discardLogger())

	auts := "0011223344556677889900112233"[:28]
	authHeader := fmt.Sprintf(`Digest username="alice", realm="sip.example.com", nonce="old-nonce", uri="sip:sip.example.com", auts="%s"`, auts)
	req := registerRequest(authHeader)

	admitted, resp := f.Admit(context.Background(), req)
	if admitted {
		t.Fatal("Admit() admitted a resync REGISTER directly")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("Admit() response = %v, want 401 fresh challenge", resp)
	}
}

func TestAdmitMapsHSSNotFoundTo403(t *testing.T) {
	hss := &fakeHSS{err: ErrIMPINotFound}
	f := NewFilter("sip.example.com", hss, NewMemoryAuthVectorStore(), time.Minute, nil, discardLogger())
	req := registerRequest("")

	admitted, resp := f.Admit(context.Background(), req)
	if admitted || resp == nil || resp.StatusCode != 403 {
		t.Fatalf("Admit() = (%v, %v), want (false, 403) on ErrIMPINotFound", admitted, resp)
	}
}

func TestAdmitMapsHSSUnavailableTo504(t *testing.T) {
	hss := &fakeHSS{err: ErrHSSUnavailable}
	f := NewFilter("sip.example.com", hss, NewMemoryAuthVectorStore(), time.Minute, nil, discardLogger())
	req := registerRequest("")

	admitted, resp := f.Admit(context.Background(), req)
	if admitted || resp == nil || resp.StatusCode != 504 {
		t.Fatalf("Admit() = (%v, %v), want (false, 504) on ErrHSSUnavailable", admitted, resp)
	}
}

func TestAORExtractsBracketedURI(t *testing.T) {
	got := AOR(`"Alice" <sip:alice@sip.example.com>;tag=abc`)
	want := "sip:alice@sip.example.com"
	if got != want {
		t.Errorf("AOR() = %q, want %q", got, want)
	}
}

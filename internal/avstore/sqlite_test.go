package avstore

import (
	"testing"
	"time"

	"github.com/sipcore/proxy/internal/raf"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutThenTakeRoundTrips(t *testing.T) {
	s := openTestStore(t)
	c := &raf.AuthChallenge{
		IMPI: "alice", IMPU: "sip:alice@sip.example.com",
		Nonce: "n1", Opaque: "op1", Realm: "sip.example.com",
		Scheme: raf.SchemeDigestMD5, HA1OrXRES: "ha1value",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := s.Put(c); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := s.Take("alice", "n1")
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if !ok {
		t.Fatal("Take() ok = false, want true")
	}
	if got.IMPU != c.IMPU || got.HA1OrXRES != c.HA1OrXRES {
		t.Errorf("Take() = %+v, want matching IMPU/HA1OrXRES of %+v", got, c)
	}
}

func TestTakeIsSingleUse(t *testing.T) {
	s := openTestStore(t)
	s.Put(&raf.AuthChallenge{
		IMPI: "alice", Nonce: "n1", Realm: "r",
		ExpiresAt: time.Now().Add(time.Minute),
	})

	if _, ok, _ := s.Take("alice", "n1"); !ok {
		t.Fatal("first Take() ok = false, want true")
	}
	if _, ok, _ := s.Take("alice", "n1"); ok {
		t.Error("second Take() ok = true, want false after consumption")
	}
}

func TestTakeReportsNotFoundForUnknownNonce(t *testing.T) {
	s := openTestStore(t)
	if _, ok, err := s.Take("alice", "does-not-exist"); ok || err != nil {
		t.Errorf("Take() = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

func TestTakeRejectsExpiredChallenge(t *testing.T) {
	s := openTestStore(t)
	s.Put(&raf.AuthChallenge{
		IMPI: "alice", Nonce: "n1", Realm: "r",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	if _, ok, err := s.Take("alice", "n1"); ok || err != nil {
		t.Errorf("Take() = (ok=%v, err=%v), want (false, nil) for expired challenge", ok, err)
	}
}

func TestPutUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	base := &raf.AuthChallenge{IMPI: "alice", Nonce: "n1", Realm: "r", HA1OrXRES: "first", ExpiresAt: time.Now().Add(time.Minute)}
	s.Put(base)
	base.HA1OrXRES = "second"
	if err := s.Put(base); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	got, ok, _ := s.Take("alice", "n1")
	if !ok {
		t.Fatal("Take() ok = false after upsert")
	}
	if got.HA1OrXRES != "second" {
		t.Errorf("HA1OrXRES = %q, want second (upsert should overwrite)", got.HA1OrXRES)
	}
}

package registrar

import (
	"io"
	"log/slog"
	"testing"

	"github.com/sipcore/proxy/internal/sipstack"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registerRequest(contact, expires string) *sipstack.Request {
	req := &sipstack.Request{Method: "REGISTER", Proto: "SIP/2.0"}
	uri, _ := sipstack.ParseURI("sip:sip.example.com")
	req.RequestURI = uri
	req.AddHeader("Contact", contact)
	if expires != "" {
		req.AddHeader("Expires", expires)
	}
	return req
}

func TestUpdateAddsNewBinding(t *testing.T) {
	table := NewTable(discardLogger())
	req := registerRequest("<sip:alice@client.example.com:5060>", "3600")

	table.Update("sip:alice@sip.example.com", req)

	bindings := table.Bindings("sip:alice@sip.example.com")
	if len(bindings) != 1 {
		t.Fatalf("len(Bindings()) = %d, want 1", len(bindings))
	}
	if bindings[0].ContactURI != "sip:alice@client.example.com:5060" {
		t.Errorf("ContactURI = %q, want sip:alice@client.example.com:5060", bindings[0].ContactURI)
	}
}

func TestUpdateRefreshesExistingBinding(t *testing.T) {
	table := NewTable(discardLogger())
	impu := "sip:alice@sip.example.com"
	table.Update(impu, registerRequest("<sip:alice@client.example.com:5060>", "3600"))
	first := table.Bindings(impu)[0].ExpiresAt

	table.Update(impu, registerRequest("<sip:alice@client.example.com:5060>", "1800"))
	bindings := table.Bindings(impu)
	if len(bindings) != 1 {
		t.Fatalf("len(Bindings()) = %d, want 1 after refresh", len(bindings))
	}
	if !bindings[0].ExpiresAt.Before(first) {
		t.Error("refreshing with a shorter Expires did not move ExpiresAt earlier")
	}
}

func TestUpdateRemovesContactOnZeroExpires(t *testing.T) {
	table := NewTable(discardLogger())
	impu := "sip:alice@sip.example.com"
	table.Update(impu, registerRequest("<sip:alice@client.example.com:5060>", "3600"))
	table.Update(impu, registerRequest("<sip:alice@client.example.com:5060>", "0"))

	if bindings := table.Bindings(impu); len(bindings) != 0 {
		t.Errorf("len(Bindings()) = %d, want 0 after deregistering sole contact", len(bindings))
	}
}

func TestUpdateWildcardDeregistersAllContacts(t *testing.T) {
	table := NewTable(discardLogger())
	impu := "sip:alice@sip.example.com"
	table.Update(impu, registerRequest("<sip:alice@phone.example.com:5060>", "3600"))
	table.Update(impu, registerRequest("<sip:alice@laptop.example.com:5060>", "3600"))

	table.Update(impu, registerRequest("*", "0"))

	if bindings := table.Bindings(impu); len(bindings) != 0 {
		t.Errorf("len(Bindings()) = %d, want 0 after wildcard deregister", len(bindings))
	}
}

func TestUpdateHandlesMultipleContactsInOneRegister(t *testing.T) {
	table := NewTable(discardLogger())
	impu := "sip:alice@sip.example.com"
	req := registerRequest("<sip:alice@phone.example.com:5060>, <sip:alice@laptop.example.com:5060>", "3600")

	table.Update(impu, req)

	if bindings := table.Bindings(impu); len(bindings) != 2 {
		t.Fatalf("len(Bindings()) = %d, want 2", len(bindings))
	}
}

func TestAllReturnsIndependentSnapshot(t *testing.T) {
	table := NewTable(discardLogger())
	table.Update("sip:alice@sip.example.com", registerRequest("<sip:alice@client.example.com:5060>", "3600"))

	snapshot := table.All()
	snapshot["sip:alice@sip.example.com"][0].ContactURI = "mutated"

	if got := table.Bindings("sip:alice@sip.example.com")[0].ContactURI; got == "mutated" {
		t.Error("mutating the All() snapshot affected the table's internal state")
	}
}

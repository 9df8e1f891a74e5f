package sipstack

import "testing"

func TestParseViaBasic(t *testing.T) {
	v, err := ParseVia("SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1")
	if err != nil {
		t.Fatalf("ParseVia() error = %v", err)
	}
	if v.Proto != "UDP" {
		t.Errorf("Proto = %q, want UDP", v.Proto)
	}
	if v.Host != "client.example.com" || v.Port != 5060 {
		t.Errorf("Host/Port = %q/%d, want client.example.com/5060", v.Host, v.Port)
	}
	if v.Branch() != "z9hG4bK-1" {
		t.Errorf("Branch() = %q, want z9hG4bK-1", v.Branch())
	}
}

func TestParseViaRejectsMissingProtocol(t *testing.T) {
	if _, err := ParseVia("not a via header"); err == nil {
		t.Error("ParseVia() expected error for malformed header, got nil")
	}
}

func TestNextHopPrefersReceivedAndRport(t *testing.T) {
	v, err := ParseVia("SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1;received=203.0.113.9;rport=9001")
	if err != nil {
		t.Fatalf("ParseVia() error = %v", err)
	}
	host, port := v.NextHop()
	if host != "203.0.113.9" || port != 9001 {
		t.Errorf("NextHop() = (%q, %d), want (203.0.113.9, 9001)", host, port)
	}
}

func TestNextHopFallsBackToSentBy(t *testing.T) {
	v, err := ParseVia("SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1")
	if err != nil {
		t.Fatalf("ParseVia() error = %v", err)
	}
	host, port := v.NextHop()
	if host != "client.example.com" || port != 5060 {
		t.Errorf("NextHop() = (%q, %d), want (client.example.com, 5060)", host, port)
	}
}

func TestRPortWithoutValue(t *testing.T) {
	v, err := ParseVia("SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1;rport")
	if err != nil {
		t.Fatalf("ParseVia() error = %v", err)
	}
	if _, ok := v.RPort(); ok {
		t.Error("RPort() reported ok for a valueless rport parameter")
	}
}

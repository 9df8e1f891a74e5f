package sipstack

import "testing"

func TestParseRequestBasic(t *testing.T) {
	raw := "REGISTER sip:sip.example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1\r\n" +
		"From: <sip:alice@sip.example.com>;tag=abc\r\n" +
		"To: <sip:alice@sip.example.com>\r\n" +
		"Call-ID: abc123@client.example.com\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Max-Forwards: 70\r\n" +
		"Content-Length: 0\r\n\r\n"

	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Method != "REGISTER" {
		t.Errorf("Method = %q, want REGISTER", req.Method)
	}
	if req.RequestURI.Host != "sip.example.com" {
		t.Errorf("RequestURI.Host = %q, want sip.example.com", req.RequestURI.Host)
	}
	if req.CallID() != "abc123@client.example.com" {
		t.Errorf("CallID() = %q, want abc123@client.example.com", req.CallID())
	}
	n, method := req.CSeq()
	if n != 1 || method != "REGISTER" {
		t.Errorf("CSeq() = (%d, %q), want (1, REGISTER)", n, method)
	}
	if mf, ok := req.MaxForwards(); !ok || mf != 70 {
		t.Errorf("MaxForwards() = (%d, %v), want (70, true)", mf, ok)
	}
}

func TestParseRequestCompactHeaderNames(t *testing.T) {
	raw := "REGISTER sip:sip.example.com SIP/2.0\r\n" +
		"v: SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1\r\n" +
		"i: abc123@client.example.com\r\n" +
		"l: 0\r\n\r\n"

	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.CallID() != "abc123@client.example.com" {
		t.Errorf("CallID() via compact 'i' header = %q", req.CallID())
	}
	if req.HeaderValue("Via") == "" {
		t.Error("Via header via compact 'v' form not found")
	}
}

func TestParseRequestRejectsMalformedRequestLine(t *testing.T) {
	if _, err := ParseRequest("REGISTER sip:sip.example.com\r\n\r\n"); err == nil {
		t.Error("ParseRequest() expected error for malformed request line, got nil")
	}
}

func TestParseResponseBasic(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP client.example.com:5060;branch=z9hG4bK-1\r\n" +
		"Content-Length: 0\r\n\r\n"

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if resp.StatusCode != 200 || resp.Reason != "OK" {
		t.Errorf("StatusCode/Reason = %d/%q, want 200/OK", resp.StatusCode, resp.Reason)
	}
}

func TestParseAuthParamsHandlesQuotedCommas(t *testing.T) {
	header := `Digest username="alice", realm="sip.example.com", nonce="abc,def", uri="sip:sip.example.com", response="xyz"`
	params := ParseAuthParams(header)

	if params["username"] != "alice" {
		t.Errorf("username = %q, want alice", params["username"])
	}
	if params["nonce"] != "abc,def" {
		t.Errorf("nonce = %q, want abc,def (comma inside quotes must not split)", params["nonce"])
	}
}

func TestAuthSchemeExtractsLeadingToken(t *testing.T) {
	if got := AuthScheme(`Digest username="alice"`); got != "Digest" {
		t.Errorf("AuthScheme() = %q, want Digest", got)
	}
}

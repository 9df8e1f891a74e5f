package raf

import "testing"

func TestDigestResponseRFC2617Vector(t *testing.T) {
	// The worked example from RFC 2617 §3.5.
	const ha1 = "939e7578ed9e3c518a452acee763bce9"
	const method = "GET"
	const uri = "/dir/index.html"
	const nonce = "dcd98b7102dd2f0e8b11d0f600bfb0c093"
	const nc = "00000001"
	const cnonce = "0a4f113b"
	const qop = "auth"
	const want = "6629fae49393a05397450978507c4ef1"

	got := digestResponse(ha1, method, uri, nonce, nc, cnonce, qop)
	if got != want {
		t.Errorf("digestResponse() = %q, want %q", got, want)
	}
}

func TestHA1FromCredentials(t *testing.T) {
	got := md5hash("Mufasa:testrealm@host.com:Circle Of Life")
	want := "939e7578ed9e3c518a452acee763bce9"
	if got != want {
		t.Errorf("md5hash() = %q, want %q", got, want)
	}
}

func TestHA2(t *testing.T) {
	got := ha2("GET", "/dir/index.html")
	want := "39aff3a2bab6126f332b942af96d3366"
	if got != want {
		t.Errorf("ha2() = %q, want %q", got, want)
	}
}

func TestAKAHA1RoundTrips(t *testing.T) {
	// aka.response is hex; akaHA1 decodes it back to raw bytes before hashing.
	got, err := akaHA1("310410000000001", "ims.example.com", "0011223344556677")
	if err != nil {
		t.Fatalf("akaHA1() error = %v", err)
	}
	if len(got) != 32 {
		t.Errorf("akaHA1() = %q, want 32 hex chars", got)
	}
	// MD5("310410000000001:ims.example.com:" + bytes 00 11 22 33 44 55 66 77).
	if want := "18b7165b2c465cd130614c3b319a812b"; got != want {
		t.Errorf("akaHA1() = %q, want %q", got, want)
	}
}

func TestAKAHA1RejectsNonHex(t *testing.T) {
	if _, err := akaHA1("user", "realm", "not-hex-zz"); err == nil {
		t.Error("akaHA1() expected error for non-hex response, got nil")
	}
}

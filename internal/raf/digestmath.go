package raf

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// md5hash computes the MD5 hash of data and returns it as lowercase hex,
// the same primitive the donor's non-qop CalculateResponse builds on
// (internal/sip/digest.go), extended here to the full RFC 2617 qop=auth
// six-field formula.
func md5hash(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ha2 computes MD5("METHOD:URI").
func ha2(method, uri string) string {
	return md5hash(fmt.Sprintf("%s:%s", method, uri))
}

// digestResponse implements RFC 2617 §3.2.2.1's qop=auth response formula:
// MD5(HA1 : nonce : nc : cnonce : qop : HA2).
func digestResponse(ha1, method, uri, nonce, nc, cnonce, qop string) string {
	h2 := ha2(method, uri)
	return md5hash(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, nc, cnonce, qop, h2))
}

// akaHA1 derives the HA1 to feed into digestResponse for an AKAv1-MD5
// credential, per SPEC_FULL §4.5 step 4: MD5("username:realm:" ||
// raw-bytes-of-aka.response-hex-decoded), grounded on the resync fixtures
// in original_source/sprout/ut/authentication_test.cpp.
func akaHA1(username, realm, akaResponseHex string) (string, error) {
	raw, err := hex.DecodeString(akaResponseHex)
	if err != nil {
		return "", fmt.Errorf("raf: decoding aka.response: %w", err)
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:", username, realm) + string(raw)))
	return hex.EncodeToString(sum[:]), nil
}

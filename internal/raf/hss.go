package raf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrIMPINotFound corresponds to the HSS returning 404 for an IMPI it has
// no record of (SPEC_FULL §4.5 "IMPI-not-in-HSS").
var ErrIMPINotFound = errors.New("raf: impi not found at hss")

// ErrHSSUnavailable corresponds to the HSS returning any 5xx status
// (including 503/504), or the request itself failing to complete
// (SPEC_FULL §4.5 step 3: "do not cache").
var ErrHSSUnavailable = errors.New("raf: hss unavailable")

// DigestAV is the parsed body of an HSS `/impi/<impi>/av` response.
type DigestAV struct {
	Realm string
	QOP   string
	HA1   string
}

// AKAAV is the parsed body of an HSS `/impi/<impi>/av/aka` response.
type AKAAV struct {
	Challenge    string
	Response     string
	CryptKey     string
	IntegrityKey string
}

// HSSClient queries the Home Subscriber Server for authentication vectors.
type HSSClient interface {
	FetchDigestAV(ctx context.Context, impi, impu string) (*DigestAV, error)
	FetchAKAAV(ctx context.Context, impi, impu, autn string) (*AKAAV, error)
}

type httpHSSClient struct {
	baseURL string
	client  *http.Client
}

// NewHSSClient builds an HSSClient backed by net/http, per SPEC_FULL §1
// ("HTTP client to the HSS: stdlib net/http").
func NewHSSClient(baseURL string, timeout time.Duration) HSSClient {
	return &httpHSSClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type digestAVBody struct {
	Digest struct {
		Realm string `json:"realm"`
		QOP   string `json:"qop"`
		HA1   string `json:"ha1"`
	} `json:"digest"`
}

type akaAVBody struct {
	AKA struct {
		Challenge    string `json:"challenge"`
		Response     string `json:"response"`
		CryptKey     string `json:"cryptkey"`
		IntegrityKey string `json:"integritykey"`
	} `json:"aka"`
}

func (h *httpHSSClient) FetchDigestAV(ctx context.Context, impi, impu string) (*DigestAV, error) {
	u := fmt.Sprintf("%s/impi/%s/av?impu=%s", h.baseURL, url.PathEscape(impi), url.QueryEscape(impu))
	var body digestAVBody
	if err := h.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	if body.Digest.Realm == "" || body.Digest.QOP == "" || body.Digest.HA1 == "" {
		return nil, fmt.Errorf("raf: hss digest av response missing required field")
	}
	return &DigestAV{Realm: body.Digest.Realm, QOP: body.Digest.QOP, HA1: body.Digest.HA1}, nil
}

func (h *httpHSSClient) FetchAKAAV(ctx context.Context, impi, impu, autn string) (*AKAAV, error) {
	u := fmt.Sprintf("%s/impi/%s/av/aka?impu=%s", h.baseURL, url.PathEscape(impi), url.QueryEscape(impu))
	if autn != "" {
		u += "&autn=" + url.QueryEscape(autn)
	}
	var body akaAVBody
	if err := h.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	if body.AKA.Challenge == "" || body.AKA.Response == "" || body.AKA.CryptKey == "" || body.AKA.IntegrityKey == "" {
		return nil, fmt.Errorf("raf: hss aka av response missing required field")
	}
	return &AKAAV{
		Challenge:    body.AKA.Challenge,
		Response:     body.AKA.Response,
		CryptKey:     body.AKA.CryptKey,
		IntegrityKey: body.AKA.IntegrityKey,
	}, nil
}

func (h *httpHSSClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("raf: building hss request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHSSUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrIMPINotFound
	case resp.StatusCode >= 500:
		return ErrHSSUnavailable
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("raf: hss returned unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("raf: decoding hss response: %w", err)
	}
	return nil
}

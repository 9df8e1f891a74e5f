package sipstack

import (
	"fmt"
	"strconv"
	"strings"
)

// Header is one wire header line, kept in an ordered slice rather than a map
// so that multiple Via/Route headers preserve arrival order, which routing
// (SPEC_FULL §4.2) and late-response forwarding (§4.8) both depend on.
type Header struct {
	Name  string
	Value string
}

// Message carries the header list and body shared by requests and responses.
type Message struct {
	Headers []Header
	Body    []byte
}

// HeaderValues returns every value for a header name, case-insensitively, in
// wire order.
func (m *Message) HeaderValues(name string) []string {
	var out []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// HeaderValue returns the first value for a header name, or "".
func (m *Message) HeaderValue(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// SetHeader replaces every occurrence of name with a single header carrying
// value, preserving the position of the first occurrence.
func (m *Message) SetHeader(name, value string) {
	replaced := false
	out := make([]Header, 0, len(m.Headers))
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			if !replaced {
				out = append(out, Header{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, h)
	}
	if !replaced {
		out = append(out, Header{Name: name, Value: value})
	}
	m.Headers = out
}

// AddHeader appends a header at the end of the list.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// PushHeaderFront inserts a header before every existing header, used to
// prepend Route headers from a Target's path set (topmost first).
func (m *Message) PushHeaderFront(name, value string) {
	m.Headers = append([]Header{{Name: name, Value: value}}, m.Headers...)
}

// RemoveHeaderAt removes the nth (0-indexed) occurrence of name, used when
// consuming a single Route header out of a list of several.
func (m *Message) RemoveHeaderAt(name string, n int) {
	count := 0
	out := make([]Header, 0, len(m.Headers))
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			if count == n {
				count++
				continue
			}
			count++
		}
		out = append(out, h)
	}
	m.Headers = out
}

// RemoveHeaders deletes every occurrence of name.
func (m *Message) RemoveHeaders(name string) {
	out := make([]Header, 0, len(m.Headers))
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	m.Headers = out
}

func (m *Message) cloneHeaders() []Header {
	out := make([]Header, len(m.Headers))
	copy(out, m.Headers)
	return out
}

// Request is a parsed SIP request.
type Request struct {
	Method     string
	RequestURI *URI
	Proto      string
	Message
}

// Clone makes an independent copy suitable for per-target forking: each
// UACTsx must own its own request object per SPEC_FULL §5.
func (r *Request) Clone() *Request {
	c := &Request{Method: r.Method, Proto: r.Proto}
	if r.RequestURI != nil {
		c.RequestURI = r.RequestURI.Clone()
	}
	c.Headers = r.cloneHeaders()
	c.Body = append([]byte(nil), r.Body...)
	return c
}

// CallID returns the Call-ID header value.
func (r *Request) CallID() string { return r.HeaderValue("Call-Id") }

// CSeq returns the numeric CSeq and its method, or (0, "") if absent/malformed.
func (r *Request) CSeq() (int, string) {
	v := r.HeaderValue("Cseq")
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return 0, ""
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, ""
	}
	return n, parts[1]
}

// MaxForwards returns the Max-Forwards value and whether the header was present.
func (r *Request) MaxForwards() (int, bool) {
	v := r.HeaderValue("Max-Forwards")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Routes returns every Route header value in wire order.
func (r *Request) Routes() []string { return r.HeaderValues("Route") }

// TopVia parses and returns the first Via header.
func (r *Request) TopVia() (*Via, error) {
	v := r.HeaderValue("Via")
	if v == "" {
		return nil, fmt.Errorf("sipstack: request has no Via header")
	}
	return ParseVia(v)
}

// Branch returns the topmost Via branch parameter, or "" if absent.
func (r *Request) Branch() string {
	via, err := r.TopVia()
	if err != nil {
		return ""
	}
	return via.Branch()
}

// Contacts returns every Contact header value in wire order.
func (r *Request) Contacts() []string { return r.HeaderValues("Contact") }

// Response is a parsed or constructed SIP response.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Message
}

// Clone makes an independent copy.
func (r *Response) Clone() *Response {
	c := &Response{Proto: r.Proto, StatusCode: r.StatusCode, Reason: r.Reason}
	c.Headers = r.cloneHeaders()
	c.Body = append([]byte(nil), r.Body...)
	return c
}

// String renders the wire form of the response.
func (r *Response) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", r.Proto, r.StatusCode, r.Reason)
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(r.Body))
	b.Write(r.Body)
	return b.String()
}

// String renders the wire form of the request.
func (r *Request) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.RequestURI.String(), r.Proto)
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(r.Body))
	b.Write(r.Body)
	return b.String()
}

// BuildResponse constructs a response to req, copying the dialog-forming
// headers (every Via, From, To, Call-Id, Cseq) as RFC 3261 §8.2.6 requires.
// A To-tag is added only when the request's To header lacks one and the
// caller asks for one via addToTag — final responses to a new dialog need a
// tag, but many proxy-generated error responses reuse whatever tag is already
// present upstream.
func BuildResponse(statusCode int, reason string, req *Request, addToTag bool) *Response {
	resp := &Response{Proto: req.Proto, StatusCode: statusCode, Reason: reason}
	for _, h := range req.Headers {
		switch {
		case strings.EqualFold(h.Name, "Via"), strings.EqualFold(h.Name, "Record-Route"):
			resp.AddHeader(h.Name, h.Value)
		}
	}
	for _, name := range []string{"From", "To", "Call-Id", "Cseq"} {
		if v := req.HeaderValue(name); v != "" {
			if strings.EqualFold(name, "To") && addToTag && !strings.Contains(v, "tag=") {
				v = fmt.Sprintf("%s;tag=%s", v, GenerateTag())
			}
			resp.AddHeader(name, v)
		}
	}
	return resp
}

// BuildAck constructs the ACK sent by an INVITE client transaction on
// receipt of a non-2xx final response, per RFC 3261 §17.1.1.3.
func BuildAck(resp *Response, invite *Request) *Request {
	ack := &Request{Method: "ACK", RequestURI: invite.RequestURI.Clone(), Proto: invite.Proto}
	if v := invite.HeaderValue("Via"); v != "" {
		ack.AddHeader("Via", v)
	}
	ack.AddHeader("From", invite.HeaderValue("From"))
	ack.AddHeader("To", resp.HeaderValue("To"))
	ack.AddHeader("Call-Id", invite.HeaderValue("Call-Id"))
	seq, _ := invite.CSeq()
	ack.AddHeader("Cseq", fmt.Sprintf("%d ACK", seq))
	if mf, ok := invite.MaxForwards(); ok {
		ack.AddHeader("Max-Forwards", strconv.Itoa(mf))
	} else {
		ack.AddHeader("Max-Forwards", "70")
	}
	return ack
}

package sipstack

import "strings"

// Via is a parsed Via header: "SIP/2.0/UDP host:port;branch=...;rport;received=...".
type Via struct {
	Proto  string // e.g. "UDP", "TCP"
	Host   string
	Port   int
	Params map[string]string
}

// ParseVia parses a single Via header value (no commas — each Via header
// line here carries exactly one hop, matching how this stack emits them).
func ParseVia(raw string) (*Via, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return nil, errInvalidVia(raw)
	}
	sentProtocol := strings.Split(parts[0], "/")
	if len(sentProtocol) != 3 {
		return nil, errInvalidVia(raw)
	}
	v := &Via{Proto: strings.ToUpper(sentProtocol[2]), Params: make(map[string]string)}

	fields := strings.Split(parts[1], ";")
	hostport := fields[0]
	if c := strings.LastIndex(hostport, ":"); c >= 0 {
		v.Host = strings.TrimSpace(hostport[:c])
		if n, err := atoiSafe(hostport[c+1:]); err == nil {
			v.Port = n
		}
	} else {
		v.Host = strings.TrimSpace(hostport)
	}

	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		kv := strings.SplitN(f, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if len(kv) == 2 {
			v.Params[key] = strings.TrimSpace(kv[1])
		} else {
			v.Params[key] = ""
		}
	}
	return v, nil
}

// Branch returns the branch parameter, or "" if absent.
func (v *Via) Branch() string { return v.Params["branch"] }

// Received returns the received parameter and whether it was present.
func (v *Via) Received() (string, bool) {
	val, ok := v.Params["received"]
	return val, ok
}

// RPort returns the rport parameter as an int and whether it was a usable value.
func (v *Via) RPort() (int, bool) {
	val, ok := v.Params["rport"]
	if !ok || val == "" {
		return 0, false
	}
	n, err := atoiSafe(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextHop resolves the host/port a stateless forwarder should send to,
// preferring received/rport over the sent-by host/port per SPEC_FULL §4.8.
func (v *Via) NextHop() (host string, port int) {
	host = v.Host
	port = v.Port
	if r, ok := v.Received(); ok && r != "" {
		host = r
	}
	if rp, ok := v.RPort(); ok {
		port = rp
	}
	return host, port
}

func atoiSafe(s string) (int, error) {
	s = strings.TrimSpace(s)
	n := 0
	if s == "" {
		return 0, errInvalidVia(s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errInvalidVia(s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

type viaError string

func (e viaError) Error() string { return string(e) }

func errInvalidVia(raw string) error { return viaError("sipstack: invalid Via header: " + raw) }

// Package registrar keeps the IMPU -> Contact binding table that RAF-
// admitted REGISTERs feed (SPEC_FULL §4.9), adapted from the donor's own
// updateRegistration/addOrUpdateContact/removeContact methods on SIPServer.
package registrar

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sipcore/proxy/internal/sipstack"
)

// Binding is one registered contact for an IMPU.
type Binding struct {
	ContactURI string
	ExpiresAt  time.Time
}

// Table is the in-memory IMPU -> []Binding store.
type Table struct {
	mu       sync.Mutex
	bindings map[string][]Binding
	log      *slog.Logger
}

// NewTable returns an empty binding table.
func NewTable(log *slog.Logger) *Table {
	return &Table{bindings: make(map[string][]Binding), log: log}
}

// Update applies a successfully-authenticated REGISTER's Contact header(s)
// to impu's binding set. A wildcard Contact with Expires 0 deregisters
// every contact at once, per RFC 3261 §10.2.2.
func (t *Table) Update(impu string, req *sipstack.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()

	contactHeader := req.HeaderValue("Contact")
	expires := registerExpires(req)

	if contactHeader == "*" && expires == 0 {
		delete(t.bindings, impu)
		t.log.Info("unregistered all contacts", "impu", impu)
		return
	}

	for _, raw := range strings.Split(contactHeader, ",") {
		contactURI := extractContactURI(raw)
		if contactURI == "" {
			continue
		}
		if expires > 0 {
			t.addOrUpdate(impu, contactURI, expires)
		} else {
			t.remove(impu, contactURI)
		}
	}
}

func (t *Table) addOrUpdate(impu, contactURI string, expires int) {
	existing := t.bindings[impu]
	for i := range existing {
		if existing[i].ContactURI == contactURI {
			existing[i].ExpiresAt = time.Now().Add(time.Duration(expires) * time.Second)
			t.log.Debug("updated binding", "impu", impu, "contact", contactURI, "expires_s", expires)
			return
		}
	}
	t.bindings[impu] = append(existing, Binding{
		ContactURI: contactURI,
		ExpiresAt:  time.Now().Add(time.Duration(expires) * time.Second),
	})
	t.log.Debug("added binding", "impu", impu, "contact", contactURI, "expires_s", expires)
}

func (t *Table) remove(impu, contactURI string) {
	existing, ok := t.bindings[impu]
	if !ok {
		return
	}
	kept := make([]Binding, 0, len(existing))
	for _, b := range existing {
		if b.ContactURI != contactURI {
			kept = append(kept, b)
		} else {
			t.log.Debug("removed binding", "impu", impu, "contact", contactURI)
		}
	}
	if len(kept) > 0 {
		t.bindings[impu] = kept
	} else {
		delete(t.bindings, impu)
	}
}

// Bindings returns a snapshot of impu's current contacts.
func (t *Table) Bindings(impu string) []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Binding, len(t.bindings[impu]))
	copy(out, t.bindings[impu])
	return out
}

// All returns a snapshot of every IMPU's bindings, for the admin dashboard.
func (t *Table) All() map[string][]Binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]Binding, len(t.bindings))
	for impu, bs := range t.bindings {
		cp := make([]Binding, len(bs))
		copy(cp, bs)
		out[impu] = cp
	}
	return out
}

func registerExpires(req *sipstack.Request) int {
	if v := req.HeaderValue("Expires"); v != "" {
		n := 0
		for _, c := range v {
			if c < '0' || c > '9' {
				return 3600
			}
			n = n*10 + int(c-'0')
		}
		return n
	}
	return 3600
}

func extractContactURI(raw string) string {
	raw = strings.TrimSpace(raw)
	start, end := strings.Index(raw, "<"), strings.Index(raw, ">")
	if start != -1 && end != -1 {
		return raw[start+1 : end]
	}
	if semi := strings.Index(raw, ";"); semi >= 0 {
		return strings.TrimSpace(raw[:semi])
	}
	return raw
}

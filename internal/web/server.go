// Package web serves the read-only admin surface SPEC_FULL §10 calls for:
// current registrar bindings and a liveness endpoint. Adapted from the
// donor's own internal/web/server.go (http.ServeMux + html/template), with
// the template inlined since this surface has no user-editable forms.
package web

import (
	"html/template"
	"log/slog"
	"net/http"
	"sort"

	"github.com/sipcore/proxy/internal/registrar"
)

// Server holds the dependencies for the admin dashboard.
type Server struct {
	bindings *registrar.Table
	tmpl     *template.Template
	log      *slog.Logger
}

// NewServer creates a new admin dashboard bound to bindings.
func NewServer(bindings *registrar.Table, log *slog.Logger) *Server {
	return &Server{
		bindings: bindings,
		tmpl:     template.Must(template.New("bindings").Parse(bindingsTemplate)),
		log:      log,
	}
}

// Run starts the admin dashboard on addr.
func (s *Server) Run(addr string) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/bindings", s.handleBindings)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/bindings", http.StatusFound)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type bindingsRow struct {
	IMPU     string
	Contacts []registrar.Binding
}

func (s *Server) handleBindings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	all := s.bindings.All()
	rows := make([]bindingsRow, 0, len(all))
	for impu, contacts := range all {
		rows = append(rows, bindingsRow{IMPU: impu, Contacts: contacts})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].IMPU < rows[j].IMPU })

	if err := s.tmpl.Execute(w, rows); err != nil {
		s.log.Warn("failed to render bindings dashboard", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

const bindingsTemplate = `<!DOCTYPE html>
<html>
<head><title>Registrar Bindings</title></head>
<body>
<h1>Registrar Bindings</h1>
<table border="1" cellpadding="4">
<tr><th>IMPU</th><th>Contact</th><th>Expires</th></tr>
{{range .}}{{$impu := .IMPU}}{{range .Contacts}}
<tr><td>{{$impu}}</td><td>{{.ContactURI}}</td><td>{{.ExpiresAt}}</td></tr>
{{else}}
<tr><td>{{$impu}}</td><td colspan="2"><em>no contacts</em></td></tr>
{{end}}{{end}}
</table>
</body>
</html>`

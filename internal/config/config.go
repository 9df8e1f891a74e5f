// Package config defines and parses this process's command-line
// configuration, per SPEC_FULL §6.
package config

import (
	"flag"
	"time"
)

// Config holds every flag-configurable setting the proxy core, RAF, and
// their ambient surfaces (metrics, admin) need.
type Config struct {
	HomeDomain  string
	DelayTrying bool
	SCSCFAddr   string

	AVTTL        time.Duration
	HSSBaseURL   string
	HSSTimeout   time.Duration
	AVStorePath  string
	Realm        string

	MetricsAddr string
	WebAddr     string

	LogLevel string
}

// Parse parses args against flag.CommandLine's defaults, matching the
// donor's cmd/server/main.go style of one flag.String/flag.Bool/flag.Duration
// call per setting followed by flag.Parse().
func Parse() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.HomeDomain, "sip.home-domain", "sip.example.com", "Home domain this S-CSCF owns")
	flag.BoolVar(&cfg.DelayTrying, "sip.delay-trying", false, "Delay the immediate 100 Trying until a downstream response arrives")
	flag.StringVar(&cfg.SCSCFAddr, "sip.scscf-addr", ":5060", "Address on which RAF is active and SIP is served")

	flag.DurationVar(&cfg.AVTTL, "raf.av-ttl", 30*time.Second, "Lifetime of an issued authentication challenge")
	flag.StringVar(&cfg.HSSBaseURL, "raf.hss-url", "http://localhost:8081", "Base URL of the HSS HTTP API")
	flag.DurationVar(&cfg.HSSTimeout, "raf.hss-timeout", 2*time.Second, "HTTP client timeout against the HSS")
	flag.StringVar(&cfg.AVStorePath, "raf.av-store-path", "", "SQLite path for the authentication vector store; empty means in-memory")
	flag.StringVar(&cfg.Realm, "raf.realm", "sip.example.com", "Realm advertised in AKA WWW-Authenticate challenges (Digest challenges use the HSS-supplied realm)")

	flag.StringVar(&cfg.MetricsAddr, "metrics.addr", ":9090", "Address for the Prometheus metrics endpoint")
	flag.StringVar(&cfg.WebAddr, "web.addr", ":8080", "Address for the read-only admin dashboard")

	flag.StringVar(&cfg.LogLevel, "log.level", "info", "log/slog level: debug, info, warn, or error")

	flag.Parse()
	return cfg
}

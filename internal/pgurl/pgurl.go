// Package pgurl implements the connection URL model (spec §4.A): parsing,
// normalization, comparison, redaction, and credential/env-var emission for
// postgres:// and postgresql:// URLs.
//
// Parsing is deliberately manual rather than built on net/url: passwords may
// contain a literal '@', so the scheme strips left-to-right by scheme, then
// splits on the rightmost '/' to separate the authority from the database
// name, then splits the authority on the rightmost '@' to separate
// credentials from host[:port]. net/url's eager percent-decoding and
// left-to-right '@' splitting cannot express this.
package pgurl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/serenorg/pgreplicator/internal/migerr"
)

// DefaultPort is used when a URL omits an explicit port.
const DefaultPort = 5432

// envVarsByParam maps recognized query parameters to the PG* environment
// variable external tools read (§4.A).
var envVarsByParam = map[string]string{
	"sslmode":          "PGSSLMODE",
	"sslcert":          "PGSSLCERT",
	"sslkey":           "PGSSLKEY",
	"sslrootcert":      "PGSSLROOTCERT",
	"channel_binding":  "PGCHANNELBINDING",
	"connect_timeout":  "PGCONNECT_TIMEOUT",
	"application_name": "PGAPPNAME",
	"client_encoding":  "PGCLIENTENCODING",
}

// param is one ordered query-string entry; Endpoint keeps an ordered slice
// rather than a map so redaction and env-var emission are deterministic.
type param struct {
	key   string
	value string
}

// Endpoint is the logical identity of a Postgres deployment (§3
// ConnectionEndpoint). Host comparisons are case-insensitive; Database and
// User are case-sensitive. Two endpoints are equal iff (host, port,
// database, user) match; query parameters do not affect identity.
type Endpoint struct {
	Host     string
	Port     uint16
	Database string
	User     string
	password string
	params   []param
}

// Parse parses a postgres:// or postgresql:// URL into an Endpoint.
func Parse(raw string) (Endpoint, error) {
	var e Endpoint

	rest := raw
	switch {
	case strings.HasPrefix(rest, "postgresql://"):
		rest = strings.TrimPrefix(rest, "postgresql://")
	case strings.HasPrefix(rest, "postgres://"):
		rest = strings.TrimPrefix(rest, "postgres://")
	default:
		return e, migerr.New(migerr.Misconfiguration, "url must start with postgres:// or postgresql://")
	}

	var query string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}

	slash := strings.LastIndexByte(rest, '/')
	if slash < 0 {
		return e, migerr.New(migerr.Misconfiguration, "url is missing a database name")
	}
	authority := rest[:slash]
	database := rest[slash+1:]
	if database == "" {
		return e, migerr.New(migerr.Misconfiguration, "url is missing a database name")
	}
	e.Database = database

	hostport := authority
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		creds := authority[:at]
		hostport = authority[at+1:]
		if u, p, ok := strings.Cut(creds, ":"); ok {
			e.User = u
			e.password = p
		} else {
			e.User = creds
		}
	}
	if hostport == "" {
		return e, migerr.New(migerr.Misconfiguration, "url is missing a host")
	}

	host := hostport
	port := uint16(DefaultPort)
	if colon := strings.LastIndexByte(hostport, ':'); colon >= 0 {
		host = hostport[:colon]
		portStr := hostport[colon+1:]
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return e, migerr.Wrapf(migerr.Misconfiguration, err, "invalid port %q", portStr)
		}
		port = uint16(p)
	}
	if host == "" {
		return e, migerr.New(migerr.Misconfiguration, "url is missing a host")
	}
	e.Host = host
	e.Port = port

	if query != "" {
		for _, kv := range strings.Split(query, "&") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			e.params = append(e.params, param{key: k, value: v})
		}
	}

	return e, nil
}

// Password returns the endpoint's password via an explicit accessor, per
// the §3 invariant that it is reachable only this way.
func (e Endpoint) Password() string { return e.password }

// identityHost normalizes the host for case-insensitive comparison.
func (e Endpoint) identityHost() string { return strings.ToLower(e.Host) }

// Equal reports whether two endpoints share the same logical identity
// (host, port, database, user); query parameters do not affect identity.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.identityHost() == o.identityHost() &&
		e.Port == o.Port &&
		e.Database == o.Database &&
		e.User == o.User
}

// Different fails with a DuplicateDatabase-adjacent Misconfiguration error
// when source and target resolve to the same identity (§4.A "different").
func Different(source, target Endpoint) error {
	if source.Equal(target) {
		return migerr.New(migerr.Misconfiguration, "source and target resolve to the same database")
	}
	return nil
}

// WithDatabase returns a copy of e pointed at a different database name,
// used to derive per-database endpoints during Phase 2.
func (e Endpoint) WithDatabase(name string) Endpoint {
	c := e
	c.Database = name
	return c
}

// Redact returns a printable URL with the password stripped. User, host,
// port, database, and the query string are preserved.
func (e Endpoint) Redact() string {
	var b strings.Builder
	b.WriteString("postgres://")
	if e.User != "" {
		b.WriteString(e.User)
	}
	b.WriteByte('@')
	b.WriteString(e.Host)
	fmt.Fprintf(&b, ":%d", e.Port)
	b.WriteByte('/')
	b.WriteString(e.Database)
	if q := e.queryString(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// String renders the full URL including the password, for in-process
// connections only — never for logging or argv (§9 "Credential safety").
func (e Endpoint) String() string {
	var b strings.Builder
	b.WriteString("postgres://")
	if e.User != "" {
		b.WriteString(e.User)
		if e.password != "" {
			b.WriteByte(':')
			b.WriteString(e.password)
		}
		b.WriteByte('@')
	}
	b.WriteString(e.Host)
	fmt.Fprintf(&b, ":%d", e.Port)
	b.WriteByte('/')
	b.WriteString(e.Database)
	if q := e.queryString(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

func (e Endpoint) queryString() string {
	if len(e.params) == 0 {
		return ""
	}
	parts := make([]string, len(e.params))
	for i, p := range e.params {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// EnvVars maps the endpoint's recognized query parameters to PG*
// environment variables for external-tool invocations (§4.A).
func (e Endpoint) EnvVars() map[string]string {
	out := make(map[string]string)
	for _, p := range e.params {
		if envVar, ok := envVarsByParam[p.key]; ok {
			out[envVar] = p.value
		}
	}
	return out
}

// PassfileLine formats the single-line pgpass entry for this endpoint:
// host:port:database:user_or_*:password_or_empty (§4.A "Credential file").
func (e Endpoint) PassfileLine() string {
	user := e.User
	if user == "" {
		user = "*"
	}
	return fmt.Sprintf("%s:%d:%s:%s:%s", e.Host, e.Port, e.Database, user, e.password)
}

package audit

import (
	"net/http"
	"strings"

	"racing-admin/internal/config"
)

// PolicyVersion identifies the interception rules below. Bump it when the
// mutating-method set or the prefix semantics change so stored history can be
// interpreted against the rules that produced it.
const PolicyVersion = 3

var (
	// MutatingMethods are the verbs that change administrative state.
	MutatingMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

	// ReadMethods never change state; historical rows with these verbs are noise.
	ReadMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace, http.MethodConnect}
)

// Policy is the single source of truth for what gets audited and how.
type Policy struct {
	Version           int
	URLPrefix         string
	SelfPrefix        string
	MutatingMethods   []string
	SensitivePrefixes []string
	CaptureIP         bool
	DefaultRole       string
}

func DefaultPolicy() Policy {
	return Policy{
		Version:           PolicyVersion,
		URLPrefix:         config.DefaultAuditURLPrefix,
		SelfPrefix:        config.DefaultAuditSelfPrefix,
		MutatingMethods:   append([]string(nil), MutatingMethods...),
		SensitivePrefixes: append([]string(nil), config.DefaultSensitivePrefixes...),
		DefaultRole:       UnknownRole,
	}
}

// PolicyFromConfig expects a validated config (defaults applied).
func PolicyFromConfig(cfg config.AuditConfig) Policy {
	p := DefaultPolicy()
	if cfg.URLPrefix != "" {
		p.URLPrefix = cfg.URLPrefix
	}
	if cfg.SelfPrefix != "" {
		p.SelfPrefix = cfg.SelfPrefix
	}
	if len(cfg.SensitivePrefixes) > 0 {
		p.SensitivePrefixes = append([]string(nil), cfg.SensitivePrefixes...)
	}
	if cfg.DefaultRole != "" {
		p.DefaultRole = strings.ToUpper(strings.TrimSpace(cfg.DefaultRole))
	}
	p.CaptureIP = cfg.CaptureIP
	return p
}

// ShouldAudit reports whether a request must produce an audit event.
// First match wins:
//  1. outside the admin prefix: no
//  2. under the audit subsystem's own prefix: no
//  3. not a mutating verb: no
//  4. not under a sensitive resource family: no
//  5. otherwise: yes
func (p Policy) ShouldAudit(method, path string) bool {
	if !hasPathPrefix(path, p.URLPrefix) {
		return false
	}
	if p.SelfPrefix != "" && hasPathPrefix(path, p.SelfPrefix) {
		return false
	}
	if !p.IsMutating(method) {
		return false
	}
	for _, prefix := range p.SensitivePrefixes {
		if hasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p Policy) IsMutating(method string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, m := range p.MutatingMethods {
		if m == method {
			return true
		}
	}
	return false
}

// hasPathPrefix matches whole path segments: "/api/admin/races" covers
// "/api/admin/races/7" but not "/api/admin/racesx". A prefix ending in "/"
// is matched literally.
func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

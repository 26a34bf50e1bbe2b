package audit

import (
	"net"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// Facts are the raw request/response observations an Event is built from.
type Facts struct {
	Method    string
	Path      string
	Status    int
	Actor     Actor
	UserAgent string
	Note      string

	// ForwardedFor is the raw X-Forwarded-For header; RemoteAddr is the peer "host:port".
	// Both are consumed only when the policy enables IP capture, and only in masked form.
	ForwardedFor string
	RemoteAddr   string
}

// Builder turns Facts into normalized Events. It holds no mutable state.
type Builder struct {
	Policy Policy
}

func NewBuilder(p Policy) Builder { return Builder{Policy: p} }

func (b Builder) Build(f Facts) Event {
	e := Event{
		ActorEmail: f.Actor.Email,
		ActorRole:  f.Actor.Role,
		Method:     f.Method,
		Path:       f.Path,
		Status:     f.Status,
		UserAgent:  f.UserAgent,
		Note:       f.Note,
	}
	if b.Policy.CaptureIP {
		e.IP = MaskIP(ClientIP(f.ForwardedFor, f.RemoteAddr))
	}
	return Normalize(e, b.Policy.DefaultRole)
}

// Normalize applies the field rules. It is idempotent.
func Normalize(e Event, defaultRole string) Event {
	e.ActorEmail = strings.ToLower(strings.TrimSpace(e.ActorEmail))
	if e.ActorEmail == "" {
		e.ActorEmail = AnonymousActor
	}

	e.ActorRole = strings.ToUpper(strings.TrimSpace(e.ActorRole))
	if e.ActorRole == "" {
		e.ActorRole = strings.ToUpper(strings.TrimSpace(defaultRole))
	}
	if e.ActorRole == "" {
		e.ActorRole = UnknownRole
	}

	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	e.Path = truncate(strings.TrimSpace(e.Path), MaxPathLen)
	e.UserAgent = truncate(strings.TrimSpace(e.UserAgent), MaxUserAgentLen)
	e.Note = truncate(strings.TrimSpace(e.Note), MaxNoteLen)
	e.IP = truncate(strings.TrimSpace(e.IP), MaxIPLen)
	return e
}

// truncate caps s at max characters without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// ClientIP picks the first X-Forwarded-For entry, falling back to the peer address.
func ClientIP(forwardedFor, remoteAddr string) string {
	if first, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// MaskIP hides the least significant part of an address:
// IPv4 "a.b.c.d" -> "a.b.c.xxx", IPv6 -> expanded form with the last group "xxxx".
// Anything unparsable becomes "masked"; empty stays empty.
func MaskIP(ip string) string {
	ip = strings.Trim(strings.TrimSpace(ip), "[]")
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "masked"
	}
	addr = addr.WithZone("").Unmap()

	if addr.Is4() {
		s := addr.String()
		return s[:strings.LastIndexByte(s, '.')] + ".xxx"
	}
	s := addr.StringExpanded()
	return s[:strings.LastIndexByte(s, ':')] + ":xxxx"
}

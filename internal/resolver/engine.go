// Package resolver implements the iterative resolution state machine:
// walking the delegation chain from a root name server down to an
// authoritative answer, recursing to resolve unglued name-server names,
// and consulting/populating the shared answer cache.
package resolver

import (
	"errors"
	"fmt"

	"github.com/dnsscience/dnscored/internal/cache"
	"github.com/dnsscience/dnscored/internal/dnsmsg"
	"github.com/dnsscience/dnscored/internal/upstream"
)

var (
	// ErrResolutionLimit is returned when the outer iteration cap or
	// the inner recursion-depth cap is exceeded.
	ErrResolutionLimit = errors.New("resolver: iteration or recursion limit exceeded")
)

const (
	defaultMaxIterations = 16
	defaultMaxRecursion  = 8
)

// rootHints are the 13 root server IPv4 addresses; resolution starts
// at the first one. Grounded on the teacher's own root-hint table.
var rootHints = []string{
	"198.41.0.4",     // a.root-servers.net
	"199.9.14.201",   // b.root-servers.net
	"192.33.4.12",    // c.root-servers.net
	"199.7.91.13",    // d.root-servers.net
	"192.203.230.10", // e.root-servers.net
	"192.5.5.241",    // f.root-servers.net
	"192.112.36.4",   // g.root-servers.net
	"198.97.190.53",  // h.root-servers.net
	"192.36.148.17",  // i.root-servers.net
	"192.58.128.30",  // j.root-servers.net
	"193.0.14.129",   // k.root-servers.net
	"199.7.83.42",    // l.root-servers.net
	"202.12.27.33",   // m.root-servers.net
}

// Transport is the subset of upstream.Client the engine depends on, so
// tests can substitute a fake.
type Transport interface {
	ExchangeUDP(addr string, q *dnsmsg.Message) (*dnsmsg.Message, error)
	ExchangeTCP(addr string, q *dnsmsg.Message) (*dnsmsg.Message, error)
}

// Config tunes the engine's bounds. Zero values fall back to the
// documented defaults.
type Config struct {
	RootHint      string // overrides rootHints[0] when non-empty
	MaxIterations int
	MaxRecursion  int
	UseTCP        bool // exchange over stream transport instead of datagram
}

// Engine drives iterative resolution for a single (name, type) query
// at a time, sharing a cache across concurrent callers.
type Engine struct {
	cache     *cache.Cache
	transport Transport
	cfg       Config
}

// New creates an Engine backed by c and t.
func New(c *cache.Cache, t Transport, cfg Config) *Engine {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxRecursion == 0 {
		cfg.MaxRecursion = defaultMaxRecursion
	}
	if cfg.RootHint == "" {
		cfg.RootHint = rootHints[0]
	}
	return &Engine{cache: c, transport: t, cfg: cfg}
}

// Resolve walks the delegation chain for (name, qtype) and returns a
// message suitable for relay to the client. It never mutates a
// caller-supplied request; callers that need the reply tied to a
// specific request id copy req.Header.ID into the result themselves.
func (e *Engine) Resolve(name string, qtype dnsmsg.QueryType) (*dnsmsg.Message, error) {
	name = dnsmsg.NormalizeName(name)

	if records, ok := e.cache.Get(name, qtype); ok {
		return answerFrom(name, qtype, records), nil
	}

	resp, err := e.resolveIterative(name, qtype, e.cfg.RootHint, 0)
	if err != nil {
		return nil, err
	}

	if resp.Header.Rcode == dnsmsg.RCodeNoError && len(resp.Answer) > 0 {
		e.cache.Put(name, qtype, resp)
	} else if resp.Header.Rcode == dnsmsg.RCodeNXDomain {
		e.cache.Put(name, qtype, &dnsmsg.Message{})
	}

	return resp, nil
}

// resolveIterative implements spec.md §4.5's algorithm: send to the
// current ns, return on NOERROR-with-answers or NXDOMAIN, otherwise
// follow a delegation (glued or recursively resolved), bounded by
// iterations and depth.
func (e *Engine) resolveIterative(name string, qtype dnsmsg.QueryType, ns string, depth int) (*dnsmsg.Message, error) {
	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		resp, err := e.query(ns, name, qtype)
		if err != nil {
			return nil, err
		}

		if resp.Header.Rcode == dnsmsg.RCodeNoError && len(resp.Answer) > 0 {
			return resp, nil
		}
		if resp.Header.Rcode == dnsmsg.RCodeNXDomain {
			return resp, nil
		}

		nextNS, found, err := e.followDelegation(resp, name, depth)
		if err != nil {
			return nil, err
		}
		if !found {
			return resp, nil
		}
		ns = nextNS
	}
	return nil, ErrResolutionLimit
}

// followDelegation looks for the first NS record in the authority
// section whose owner is a suffix of name, and resolves it to an
// address, using glue when present and recursing through the engine
// otherwise. Only that one candidate is tried: if its recursive
// resolution fails to yield an address, followDelegation gives up
// rather than trying a second NS record, mirroring
// original_source/src/main.rs's recursive_lookup (get_unresolved_ns
// picks a single name; when the recursive_lookup on it doesn't
// produce an address, the caller returns its current response as-is).
// A resolution-limit error from that sub-resolution is passed back to
// the caller instead.
func (e *Engine) followDelegation(resp *dnsmsg.Message, name string, depth int) (nsAddr string, found bool, err error) {
	for _, ns := range resp.Authority {
		if ns.Type != dnsmsg.TypeNS {
			continue
		}
		if !isSuffix(name, ns.Name) {
			continue
		}

		if addr, ok := findGlue(resp.Additional, ns.Host); ok {
			return addr, true, nil
		}

		if depth >= e.cfg.MaxRecursion {
			return "", false, ErrResolutionLimit
		}

		glueResp, err := e.resolveIterative(dnsmsg.NormalizeName(ns.Host), dnsmsg.TypeA, e.cfg.RootHint, depth+1)
		if errors.Is(err, ErrResolutionLimit) {
			return "", false, err
		}
		if err != nil {
			return "", false, nil
		}
		for _, rr := range glueResp.Answer {
			if rr.Type == dnsmsg.TypeA {
				return fmtIPv4(rr.A), true, nil
			}
		}
		return "", false, nil
	}
	return "", false, nil
}

// findGlue looks for an A record in additional whose owner matches
// host (glue supplied alongside the NS referral).
func findGlue(additional []dnsmsg.ResourceRecord, host string) (string, bool) {
	host = dnsmsg.NormalizeName(host)
	for _, rr := range additional {
		if rr.Type == dnsmsg.TypeA && dnsmsg.NormalizeName(rr.Name) == host {
			return fmtIPv4(rr.A), true
		}
	}
	return "", false
}

// isSuffix reports whether owner is name itself or a parent domain of
// name (label-aligned suffix match, not a raw string suffix check).
func isSuffix(name, owner string) bool {
	name = dnsmsg.NormalizeName(name)
	owner = dnsmsg.NormalizeName(owner)
	if owner == "" {
		return true // root
	}
	if name == owner {
		return true
	}
	return len(name) > len(owner) && name[len(name)-len(owner)-1] == '.' && name[len(name)-len(owner):] == owner
}

func fmtIPv4(a [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

func (e *Engine) query(ns, name string, qtype dnsmsg.QueryType) (*dnsmsg.Message, error) {
	q := &dnsmsg.Message{
		Header: dnsmsg.Header{RD: false},
		Question: []dnsmsg.Question{{
			Name:  name,
			Type:  qtype,
			Class: dnsmsg.ClassINET,
		}},
	}

	addr := ns + ":53"
	if e.cfg.UseTCP {
		return e.transport.ExchangeTCP(addr, q)
	}
	return e.transport.ExchangeUDP(addr, q)
}

// answerFrom builds an answer-only message from cached records, used
// on a cache hit.
func answerFrom(name string, qtype dnsmsg.QueryType, records []dnsmsg.ResourceRecord) *dnsmsg.Message {
	return &dnsmsg.Message{
		Header: dnsmsg.Header{
			QR:    true,
			RA:    true,
			Rcode: dnsmsg.RCodeNoError,
		},
		Question: []dnsmsg.Question{{Name: name, Type: qtype, Class: dnsmsg.ClassINET}},
		Answer:   records,
	}
}

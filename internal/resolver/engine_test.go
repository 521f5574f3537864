package resolver

import (
	"errors"
	"testing"

	"github.com/dnsscience/dnscored/internal/cache"
	"github.com/dnsscience/dnscored/internal/dnsmsg"
)

// fakeTransport maps "addr|name|qtype" lookups to canned responses, so
// engine tests can drive multi-hop delegation without a network.
type fakeTransport struct {
	responses map[string]*dnsmsg.Message
	calls     int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]*dnsmsg.Message)}
}

func (f *fakeTransport) key(addr string, q *dnsmsg.Message) string {
	return addr + "|" + q.Question[0].Name + "|" + q.Question[0].Type.String()
}

func (f *fakeTransport) ExchangeUDP(addr string, q *dnsmsg.Message) (*dnsmsg.Message, error) {
	f.calls++
	resp, ok := f.responses[f.key(addr, q)]
	if !ok {
		return nil, errors.New("fakeTransport: no canned response for " + f.key(addr, q))
	}
	return resp, nil
}

func (f *fakeTransport) ExchangeTCP(addr string, q *dnsmsg.Message) (*dnsmsg.Message, error) {
	return f.ExchangeUDP(addr, q)
}

func TestResolveDirectAnswerFromRoot(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["198.41.0.4:53|example.com|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Answer: []dnsmsg.ResourceRecord{
			{Name: "example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{93, 184, 216, 34}},
		},
	}

	e := New(cache.New(), ft, Config{})
	resp, err := e.Resolve("example.com", dnsmsg.TypeA)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resp.Answer) != 1 || resp.Answer[0].A != [4]byte{93, 184, 216, 34} {
		t.Fatalf("unexpected answer: %+v", resp.Answer)
	}
}

func TestResolveFollowsGluedDelegation(t *testing.T) {
	ft := newFakeTransport()
	// Root refers to the "com" TLD server, with glue.
	ft.responses["198.41.0.4:53|www.example.com|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Authority: []dnsmsg.ResourceRecord{
			{Name: "com", Type: dnsmsg.TypeNS, Host: "a.gtld-servers.net"},
		},
		Additional: []dnsmsg.ResourceRecord{
			{Name: "a.gtld-servers.net", Type: dnsmsg.TypeA, A: [4]byte{192, 5, 6, 30}},
		},
	}
	// TLD server answers directly.
	ft.responses["192.5.6.30:53|www.example.com|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Answer: []dnsmsg.ResourceRecord{
			{Name: "www.example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{1, 2, 3, 4}},
		},
	}

	e := New(cache.New(), ft, Config{})
	resp, err := e.Resolve("www.example.com", dnsmsg.TypeA)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resp.Answer) != 1 || resp.Answer[0].A != [4]byte{1, 2, 3, 4} {
		t.Fatalf("unexpected answer: %+v", resp.Answer)
	}
}

func TestResolveFollowsUnglueDelegationViaRecursion(t *testing.T) {
	ft := newFakeTransport()
	// Root refers to a TLD NS with no glue.
	ft.responses["198.41.0.4:53|www.example.com|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Authority: []dnsmsg.ResourceRecord{
			{Name: "com", Type: dnsmsg.TypeNS, Host: "ns.unglued.test"},
		},
	}
	// Resolving the NS target's own A record, also from root.
	ft.responses["198.41.0.4:53|ns.unglued.test|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Answer: []dnsmsg.ResourceRecord{
			{Name: "ns.unglued.test", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{5, 6, 7, 8}},
		},
	}
	// The now-resolved NS address answers the original query.
	ft.responses["5.6.7.8:53|www.example.com|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Answer: []dnsmsg.ResourceRecord{
			{Name: "www.example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{9, 9, 9, 9}},
		},
	}

	e := New(cache.New(), ft, Config{})
	resp, err := e.Resolve("www.example.com", dnsmsg.TypeA)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resp.Answer) != 1 || resp.Answer[0].A != [4]byte{9, 9, 9, 9} {
		t.Fatalf("unexpected answer: %+v", resp.Answer)
	}
}

func TestResolveNXDomainShortCircuits(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["198.41.0.4:53|nowhere.test|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNXDomain},
	}

	e := New(cache.New(), ft, Config{})
	resp, err := e.Resolve("nowhere.test", dnsmsg.TypeA)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resp.Header.Rcode != dnsmsg.RCodeNXDomain {
		t.Fatalf("expected NXDOMAIN, got %s", resp.Header.Rcode)
	}
}

func TestResolveIterationLimitExceeded(t *testing.T) {
	ft := newFakeTransport()
	// Every delegation's glue points straight back at a server that
	// returns the same delegation, so no progress is made and
	// MaxIterations is exhausted deterministically.
	ft.responses["198.41.0.4:53|loop.test|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Authority: []dnsmsg.ResourceRecord{
			{Name: "test", Type: dnsmsg.TypeNS, Host: "ns1.loop.test"},
		},
		Additional: []dnsmsg.ResourceRecord{
			{Name: "ns1.loop.test", Type: dnsmsg.TypeA, A: [4]byte{1, 1, 1, 1}},
		},
	}
	ft.responses["1.1.1.1:53|loop.test|A"] = ft.responses["198.41.0.4:53|loop.test|A"]

	e := New(cache.New(), ft, Config{MaxIterations: 3})
	_, err := e.Resolve("loop.test", dnsmsg.TypeA)
	if !errors.Is(err, ErrResolutionLimit) {
		t.Fatalf("expected ErrResolutionLimit, got %v", err)
	}
}

func TestResolveCachesAnswerOnSecondLookup(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["198.41.0.4:53|cached.test|A"] = &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNoError},
		Answer: []dnsmsg.ResourceRecord{
			{Name: "cached.test", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{7, 7, 7, 7}},
		},
	}

	e := New(cache.New(), ft, Config{})
	if _, err := e.Resolve("cached.test", dnsmsg.TypeA); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	callsAfterFirst := ft.calls

	resp, err := e.Resolve("cached.test", dnsmsg.TypeA)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if ft.calls != callsAfterFirst {
		t.Fatalf("expected the second Resolve to be served from cache with no extra upstream calls, got %d extra", ft.calls-callsAfterFirst)
	}
	if len(resp.Answer) != 1 || resp.Answer[0].A != [4]byte{7, 7, 7, 7} {
		t.Fatalf("unexpected cached answer: %+v", resp.Answer)
	}
}

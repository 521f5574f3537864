// Package server is the concurrent dual-transport front-end: it owns a
// UDP and a TCP listener, decodes each inbound request, dispatches it
// to the resolution engine through a bounded worker pool, and encodes
// the reply back onto the same transport the request arrived on.
package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/dnsscience/dnscored/internal/dnsmsg"
	"github.com/dnsscience/dnscored/internal/eventbus"
	"github.com/dnsscience/dnscored/internal/metrics"
	"github.com/dnsscience/dnscored/internal/wire"
	"github.com/dnsscience/dnscored/internal/worker"
)

// Resolver is the subset of resolver.Engine the front-end depends on.
type Resolver interface {
	Resolve(name string, qtype dnsmsg.QueryType) (*dnsmsg.Message, error)
}

// Config holds front-end configuration.
type Config struct {
	UDPAddr string // default ":2053"
	TCPAddr string // default ":2053"

	Workers   int // worker pool size, default 64
	QueueSize int // worker pool queue size, default Workers*10
}

// DefaultConfig returns the spec's documented default listen ports.
func DefaultConfig() Config {
	return Config{
		UDPAddr:   ":2053",
		TCPAddr:   ":2053",
		Workers:   64,
		QueueSize: 640,
	}
}

// QueryEvent is published on eventbus.TopicQuery once a request that
// reached the resolver has been answered (or failed), for the
// stats/logging consumer. FORMERR replies are not published.
type QueryEvent struct {
	Name    string
	Type    string
	Rcode   dnsmsg.RCode
	Transport string // "udp" or "tcp"
	Err     error
}

// Server owns the listeners and dispatches requests through a worker
// pool to the resolver.
type Server struct {
	cfg      Config
	resolver Resolver
	pool     *worker.Pool
	bus      *eventbus.Bus
	metrics  *metrics.Registry

	udpConn *net.UDPConn
	tcpLn   net.Listener

	queries atomic.Uint64
	answers atomic.Uint64
	errors  atomic.Uint64
	nxdomain atomic.Uint64
}

// New creates a Server. The resolver and event bus are shared with the
// rest of the process (the bus is optional; pass nil to disable).
func New(cfg Config, resolver Resolver, bus *eventbus.Bus) *Server {
	if cfg.Workers == 0 {
		cfg.Workers = 64
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = cfg.Workers * 10
	}
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		bus:      bus,
		pool: worker.NewPool(worker.Config{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
		}),
	}
}

// SetMetrics attaches the Prometheus registry the server increments
// counters on. Call once after construction; nil is safe and leaves
// metrics unreported.
func (s *Server) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// Start binds both listeners and begins serving. It returns once both
// are bound; the accept/receive loops run in background goroutines.
func (s *Server) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp4", s.cfg.UDPAddr)
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}
	s.udpConn, err = net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("bind udp: %w", err)
	}

	s.tcpLn, err = net.Listen("tcp4", s.cfg.TCPAddr)
	if err != nil {
		s.udpConn.Close()
		return fmt.Errorf("bind tcp: %w", err)
	}

	go s.serveUDP()
	go s.serveTCP()
	return nil
}

// Stop closes both listeners and drains the worker pool.
func (s *Server) Stop() error {
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
	return s.pool.Close()
}

func (s *Server) serveUDP() {
	for {
		buf := make([]byte, wire.FixedBufferSize)
		n, src, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			return // listener closed
		}
		reqBytes := buf[:n]

		ctx := context.Background()
		_ = s.pool.SubmitAsync(ctx, worker.JobFunc(func(context.Context) error {
			s.handleUDP(reqBytes, src)
			return nil
		}))
	}
}

func (s *Server) handleUDP(reqBytes []byte, src *net.UDPAddr) {
	reply := s.handle(reqBytes, "udp")
	out, err := reply.EncodeUDP()
	if err != nil {
		return
	}
	s.udpConn.WriteToUDP(out, src)
}

func (s *Server) serveTCP() {
	for {
		conn, err := s.tcpLn.Accept()
		if err != nil {
			return // listener closed
		}

		ctx := context.Background()
		_ = s.pool.SubmitAsync(ctx, worker.JobFunc(func(context.Context) error {
			s.handleTCPConn(conn)
			return nil
		}))
	}
}

func (s *Server) handleTCPConn(conn net.Conn) {
	defer conn.Close()

	body, err := readFramedTCP(conn)
	if err != nil {
		return
	}

	reply := s.handle(body, "tcp")
	out, err := reply.EncodeStream()
	if err != nil {
		return
	}
	writeFramedTCP(conn, out)
}

// handle decodes a raw request, invokes the resolver, and builds a
// reply message per spec.md §4.6: id + RD copied from the request,
// QR and RA set, rcode/sections copied from the engine's response.
// FORMERR if the request carried no question; SERVFAIL if the engine
// returned an error.
func (s *Server) handle(reqBytes []byte, transport string) *dnsmsg.Message {
	s.queries.Add(1)
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(transport).Inc()
	}

	req, err := dnsmsg.Decode(reqBytes)
	if err != nil {
		s.errors.Add(1)
		if s.metrics != nil {
			s.metrics.ErrorsTotal.Inc()
		}
		return errorReply(0, false, dnsmsg.RCodeFormErr)
	}

	if len(req.Question) == 0 {
		s.errors.Add(1)
		if s.metrics != nil {
			s.metrics.ErrorsTotal.Inc()
		}
		return errorReply(req.Header.ID, req.Header.RD, dnsmsg.RCodeFormErr)
	}

	q := req.Question[0]
	resp, err := s.resolver.Resolve(q.Name, q.Type)

	reply := &dnsmsg.Message{
		Header: dnsmsg.Header{
			ID: req.Header.ID,
			RD: req.Header.RD,
			QR: true,
			RA: true,
		},
		Question: req.Question,
	}

	if err != nil {
		s.errors.Add(1)
		if s.metrics != nil {
			s.metrics.ErrorsTotal.Inc()
		}
		reply.Header.Rcode = dnsmsg.RCodeServFail
		s.publish(q, transport, dnsmsg.RCodeServFail, err)
		return reply
	}

	reply.Header.Rcode = resp.Header.Rcode
	reply.Answer = resp.Answer
	reply.Authority = resp.Authority
	reply.Additional = resp.Additional

	s.answers.Add(1)
	if s.metrics != nil {
		s.metrics.AnswersTotal.Inc()
	}
	if resp.Header.Rcode == dnsmsg.RCodeNXDomain {
		s.nxdomain.Add(1)
		if s.metrics != nil {
			s.metrics.NXDomainTotal.Inc()
		}
	}
	s.publish(q, transport, resp.Header.Rcode, nil)
	return reply
}

func (s *Server) publish(q dnsmsg.Question, transport string, rcode dnsmsg.RCode, err error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), eventbus.TopicQuery, QueryEvent{
		Name:      q.Name,
		Type:      q.Type.String(),
		Rcode:     rcode,
		Transport: transport,
		Err:       err,
	})
}

func errorReply(id uint16, rd bool, rcode dnsmsg.RCode) *dnsmsg.Message {
	return &dnsmsg.Message{
		Header: dnsmsg.Header{
			ID:    id,
			RD:    rd,
			QR:    true,
			RA:    true,
			Rcode: rcode,
		},
	}
}

// Stats is a snapshot of the front-end's request counters.
type Stats struct {
	Queries  uint64
	Answers  uint64
	Errors   uint64
	NXDomain uint64
	Pool     worker.Stats
}

// GetStats returns a point-in-time snapshot.
func (s *Server) GetStats() Stats {
	return Stats{
		Queries:  s.queries.Load(),
		Answers:  s.answers.Load(),
		Errors:   s.errors.Load(),
		NXDomain: s.nxdomain.Load(),
		Pool:     s.pool.GetStats(),
	}
}

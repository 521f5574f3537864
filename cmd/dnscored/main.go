// Command dnscored runs the iterative DNS resolver: a UDP/TCP
// front-end backed by a TTL-aware cache and an upstream exchange
// client, walking the delegation chain from the root hints down to an
// authoritative answer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnsscience/dnscored/internal/cache"
	"github.com/dnsscience/dnscored/internal/config"
	"github.com/dnsscience/dnscored/internal/eventbus"
	"github.com/dnsscience/dnscored/internal/metrics"
	"github.com/dnsscience/dnscored/internal/resolver"
	"github.com/dnsscience/dnscored/internal/server"
	"github.com/dnsscience/dnscored/internal/upstream"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		udpAddr    = flag.String("udp", "", "override UDP listen address")
		tcpAddr    = flag.String("tcp", "", "override TCP listen address")
		rootHint   = flag.String("root-hint", "", "override the root server used to bootstrap resolution")
		workers    = flag.Int("workers", 0, "override the worker pool size")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("dnscored: %v", err)
	}
	cfg.Overlay(*udpAddr, *tcpAddr, *rootHint, *workers)

	c := cache.New()
	client := upstream.NewClient()
	client.Timeout = cfg.Resolver.QueryTimeout
	bus := eventbus.New(256)
	c.SetBus(bus)

	engine := resolver.New(c, client, resolver.Config{
		RootHint:      cfg.Resolver.RootHint,
		MaxIterations: cfg.Resolver.MaxIterations,
		MaxRecursion:  cfg.Resolver.MaxRecursion,
		UseTCP:        cfg.Resolver.UseTCP,
	})

	srv := server.New(server.Config{
		UDPAddr:   cfg.Listen.UDP,
		TCPAddr:   cfg.Listen.TCP,
		Workers:   cfg.Server.Workers,
		QueueSize: cfg.Server.QueueSize,
	}, engine, bus)

	if err := srv.Start(); err != nil {
		log.Fatalf("dnscored: %v", err)
	}
	log.Printf("dnscored: listening udp=%s tcp=%s", cfg.Listen.UDP, cfg.Listen.TCP)

	if cfg.Metrics.Enabled {
		reg := metrics.New(
			func() float64 { return float64(c.GetStats().Entries) },
			func() float64 { return float64(srv.GetStats().Pool.QueueDepth) },
			func() float64 { return float64(srv.GetStats().Pool.Rejected) },
		)
		c.SetMetrics(reg)
		client.SetMetrics(reg)
		srv.SetMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Printf("dnscored: metrics server stopped: %v", err)
			}
		}()
		log.Printf("dnscored: metrics on %s/metrics", cfg.Metrics.Addr)
	}

	logQueries(bus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("dnscored: shutting down")
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "dnscored: shutdown: %v\n", err)
	}
}

// logQueries subscribes to query-lifecycle events and logs failures,
// standing in for the teacher's stdout stats loop now that successes
// are tracked via Prometheus instead.
func logQueries(bus *eventbus.Bus) {
	sub := bus.Subscribe(context.Background(), eventbus.TopicQuery)
	go func() {
		for evt := range sub.Ch {
			qe, ok := evt.Data.(server.QueryEvent)
			if !ok || qe.Err == nil {
				continue
			}
			log.Printf("dnscored: query failed name=%s type=%s transport=%s: %v",
				qe.Name, qe.Type, qe.Transport, qe.Err)
		}
	}()
}

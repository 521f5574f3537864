// Command bench throws concurrent UDP queries at a dnscored instance
// and reports queries-per-second, adapted from the teacher's raw-socket
// throughput tool but building the query with our own wire codec
// instead of an external DNS library.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsscience/dnscored/internal/dnsmsg"
)

var (
	target   = flag.String("target", "127.0.0.1:2053", "dnscored UDP address")
	workers  = flag.Int("workers", 10, "number of concurrent workers")
	domain   = flag.String("domain", "example.com", "domain to query")
	duration = flag.Duration("duration", 10*time.Second, "test duration")
)

func main() {
	flag.Parse()

	log.Printf("bench: querying %s with %d workers for %v", *target, *workers, *duration)

	var count, errs uint64
	done := make(chan struct{})

	reqBytes, err := buildQuery(*domain)
	if err != nil {
		log.Fatalf("bench: build query: %v", err)
	}

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(reqBytes, done, &count, &errs)
		}()
	}

	time.Sleep(*duration)
	close(done)
	wg.Wait()

	elapsed := time.Since(start)
	qps := float64(count) / elapsed.Seconds()

	fmt.Printf("\n--- Results ---\n")
	fmt.Printf("Total Requests: %d\n", count)
	fmt.Printf("Total Errors:   %d\n", errs)
	fmt.Printf("Duration:       %.2fs\n", elapsed.Seconds())
	fmt.Printf("QPS:            %.2f\n", qps)
}

func buildQuery(domain string) ([]byte, error) {
	msg := &dnsmsg.Message{
		Header: dnsmsg.Header{RD: true},
		Question: []dnsmsg.Question{{
			Name:  domain,
			Type:  dnsmsg.TypeA,
			Class: dnsmsg.ClassINET,
		}},
	}
	return msg.EncodeUDP()
}

func runWorker(reqBytes []byte, done <-chan struct{}, count, errs *uint64) {
	conn, err := net.Dial("udp4", *target)
	if err != nil {
		log.Printf("bench: dial: %v", err)
		return
	}
	defer conn.Close()

	buf := make([]byte, 512)
	for {
		select {
		case <-done:
			return
		default:
		}

		if _, err := conn.Write(reqBytes); err != nil {
			atomic.AddUint64(errs, 1)
			continue
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if _, err := conn.Read(buf); err != nil {
			atomic.AddUint64(errs, 1)
			continue
		}

		atomic.AddUint64(count, 1)
	}
}

// Package eventbus is a small in-process pub/sub used to fan query
// lifecycle events (resolved, cache hit/miss, error) out to subscribers,
// such as the front-end's query-failure logger, without coupling the
// resolution engine to logging directly.
package eventbus

import (
	"context"
	"sync"
)

type Topic string

const (
	// TopicQuery carries a QueryEvent for every request the server
	// passes to the resolver, successful or not. Requests rejected with
	// FORMERR before resolution are not published.
	TopicQuery Topic = "query"
	// TopicCache carries a cache hit/miss notification.
	TopicCache Topic = "cache"
)

type Event struct {
	Topic Topic
	Data  interface{}
}

type Subscriber struct {
	Ch   <-chan Event
	stop context.CancelFunc
}

type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
	buf  int
}

func New(buf int) *Bus {
	return &Bus{subs: make(map[Topic][]chan Event), buf: buf}
}

func (b *Bus) Publish(ctx context.Context, topic Topic, data interface{}) {
	b.mu.RLock()
	chs := b.subs[topic]
	b.mu.RUnlock()
	for _, ch := range chs {
		select {
		case ch <- Event{Topic: topic, Data: data}:
		default:
			// drop if subscriber is slow
		}
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic Topic) *Subscriber {
	ch := make(chan Event, b.buf)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		<-cctx.Done()
		b.mu.Lock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return &Subscriber{Ch: ch, stop: cancel}
}

func (s *Subscriber) Close() { if s.stop != nil { s.stop() } }

package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

const localRedeliveryLimit = 3

// LocalDispatcher is the in-process stand-in used when the broker is
// unavailable. Each bound queue receives its own copy of a published message
// on its own goroutine, mirroring the fan-out of a topic exchange.
type LocalDispatcher struct {
	mu       sync.RWMutex
	bindings map[string][]Handler
	wg       sync.WaitGroup
	closed   bool
	backoff  time.Duration
}

func NewLocalDispatcher() *LocalDispatcher {
	return &LocalDispatcher{
		bindings: make(map[string][]Handler),
		backoff:  time.Second,
	}
}

// Bind registers handler for routingKey. Binding the same key several times
// behaves like several queues bound to one exchange.
func (d *LocalDispatcher) Bind(routingKey string, handler Handler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[routingKey] = append(d.bindings[routingKey], handler)
}

// Publish hands body to every handler bound to routingKey and returns
// immediately. The exchange name is ignored.
func (d *LocalDispatcher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"dispatcher closed; publish skipped\" routing_key=%s", routingKey)
		return nil
	}
	handlers := d.bindings[routingKey]
	if len(handlers) == 0 {
		log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"no local handlers; publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
		return nil
	}
	for _, h := range handlers {
		d.wg.Add(1)
		go d.deliver(routingKey, h, payload)
	}
	return nil
}

func (d *LocalDispatcher) deliver(routingKey string, handler Handler, payload []byte) {
	defer d.wg.Done()
	for attempt := 1; attempt <= localRedeliveryLimit; attempt++ {
		if handler(payload) {
			return
		}
		if attempt < localRedeliveryLimit {
			time.Sleep(d.backoff)
		}
	}
	log.Printf("level=error component=rabbitmq_producer mode=fallback msg=\"handler kept failing; message dropped\" routing_key=%s", routingKey)
}

// Wait blocks until every in-flight delivery has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting messages and waits for in-flight deliveries.
func (d *LocalDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MemoryBroker is an in-process Broker fake for tests: channels stand in
// for queues, and topic subscriptions are matched against a simple dotted
// routing-key pattern (supporting the "#" match-everything wildcard the
// event consumer uses, plus exact-kind bindings).
type MemoryBroker struct {
	mu         sync.Mutex
	queues     map[string]chan message
	topicSubs  []topicSub
	closed     bool
}

type message struct {
	body       []byte
	routingKey string
}

type topicSub struct {
	pattern string
	ch      chan message
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]chan message),
	}
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	for _, s := range b.topicSubs {
		close(s.ch)
	}
	return nil
}

func (b *MemoryBroker) queue(name string) chan message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan message, 1024)
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case b.queue(queue) <- message{body: body, routingKey: queue}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topicSubs {
		if topicMatch(sub.pattern, routingKey) {
			select {
			case sub.ch <- message{body: body, routingKey: routingKey}:
			default:
				// bounded fake buffer; a full subscriber queue drops rather
				// than blocking the publisher, same as a slow consumer
				// would eventually hit flow control on the real broker.
			}
		}
	}
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	return consumeMessages(ctx, b.queue(queue), handler)
}

func (b *MemoryBroker) ConsumeTopic(ctx context.Context, queueName, pattern string, handler Handler) error {
	ch := make(chan message, 1024)
	b.mu.Lock()
	b.topicSubs = append(b.topicSubs, topicSub{pattern: pattern, ch: ch})
	b.mu.Unlock()
	return consumeMessages(ctx, ch, handler)
}

func consumeMessages(ctx context.Context, ch chan message, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			_ = runHandler(ctx, handler, m.body, m.routingKey)
		}
	}
}

// topicMatch implements AMQP topic-exchange matching for the subset of
// patterns this system uses: exact kinds and "#" (match everything).
func topicMatch(pattern, routingKey string) bool {
	if pattern == "#" {
		return true
	}
	if pattern == routingKey {
		return true
	}
	patternParts := strings.Split(pattern, ".")
	keyParts := strings.Split(routingKey, ".")
	return matchParts(patternParts, keyParts)
}

func matchParts(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(key); i++ {
			if matchParts(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchParts(pattern[1:], key[1:])
	default:
		if len(key) == 0 || key[0] != pattern[0] {
			return false
		}
		return matchParts(pattern[1:], key[1:])
	}
}

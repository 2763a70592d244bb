// Package broker wraps the AMQP-style message broker (§6): two durable
// work queues for tasks and one durable topic exchange for events, with
// dead-letter topology declared up front rather than left as a policy
// statement.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opensubs-io/subsync/log"
)

const (
	EventsExchange = "subtitle.events"

	DownloadQueue    = "subtitle.download"
	TranslateQueue   = "subtitle.translate"
	DownloadDLQ      = "subtitle.download.dlq"
	TranslateDLQ     = "subtitle.translate.dlq"
	eventsDLExchange = "subtitle.events.dlx"
)

// Handler processes one delivery. Returning an error nacks the message
// with requeue; returning nil acks it. Handlers must never panic past this
// boundary — Consume recovers and treats a panic the same as a returned
// error, per spec §9 "never leak exceptions to the broker library."
type Handler func(ctx context.Context, body []byte, routingKey string) error

// Broker is the interface workers and the orchestrator depend on.
type Broker interface {
	// Enqueue publishes a task payload directly to a named work queue.
	Enqueue(ctx context.Context, queue string, payload any) error
	// Publish publishes an event envelope to the topic exchange under the
	// given routing key (the event kind).
	Publish(ctx context.Context, routingKey string, payload any) error
	// Consume starts a prefetch=1 consume loop on queue, blocking until ctx
	// is cancelled or the channel closes.
	Consume(ctx context.Context, queue string, handler Handler) error
	// ConsumeTopic binds an existing queue to pattern on the events exchange
	// (used by the event consumer's "#" subscription) and consumes it; it
	// does not declare the queue.
	ConsumeTopic(ctx context.Context, queueName, pattern string, handler Handler) error
	Ping(ctx context.Context) error
	Close() error
}

// AMQPBroker is the production Broker backed by amqp091-go.
type AMQPBroker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(url string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	b := &AMQPBroker{conn: conn, ch: ch}
	if err := b.declareTopology(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *AMQPBroker) declareTopology() error {
	if err := b.ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring events exchange: %w", err)
	}
	if err := b.ch.ExchangeDeclare(eventsDLExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring dead-letter exchange: %w", err)
	}

	work := []struct {
		queue string
		dlq   string
	}{
		{DownloadQueue, DownloadDLQ},
		{TranslateQueue, TranslateDLQ},
	}
	for _, w := range work {
		if _, err := b.ch.QueueDeclare(w.dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring dlq %s: %w", w.dlq, err)
		}
		args := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": w.dlq,
		}
		if _, err := b.ch.QueueDeclare(w.queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declaring queue %s: %w", w.queue, err)
		}
	}

	eventsQueue := EventsExchange + ".consumer"
	if _, err := b.ch.QueueDeclare(eventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring events consumer queue: %w", err)
	}
	if err := b.ch.QueueBind(eventsQueue, "#", EventsExchange, false, nil); err != nil {
		return fmt.Errorf("binding events consumer queue: %w", err)
	}

	return nil
}

func (b *AMQPBroker) Ping(ctx context.Context) error {
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("broker connection closed")
	}
	return nil
}

func (b *AMQPBroker) Close() error {
	_ = b.ch.Close()
	return b.conn.Close()
}

func (b *AMQPBroker) Enqueue(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling task for %s: %w", queue, err)
	}
	return b.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (b *AMQPBroker) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", routingKey, err)
	}
	return b.ch.PublishWithContext(ctx, EventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (b *AMQPBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	if err := b.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting prefetch on %s: %w", queue, err)
	}
	deliveries, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", queue, err)
	}
	return consumeLoop(ctx, deliveries, handler)
}

func (b *AMQPBroker) ConsumeTopic(ctx context.Context, queueName, pattern string, handler Handler) error {
	if err := b.ch.QueueBind(queueName, pattern, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("binding %s to pattern %s: %w", queueName, pattern, err)
	}
	deliveries, err := b.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", queueName, err)
	}
	return consumeLoop(ctx, deliveries, handler)
}

func consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := runHandler(ctx, handler, d.Body, d.RoutingKey); err != nil {
				log.LogNoJobID("handler error, nacking with requeue", "routing_key", d.RoutingKey, "err", err)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// runHandler recovers from a panicking handler and turns it into an error,
// so one bad message can never crash a worker's consume loop.
func runHandler(ctx context.Context, handler Handler, body []byte, routingKey string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoJobID("panic in broker handler, recovering", "err", rec, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in handler: %v", rec)
		}
	}()
	return handler(ctx, body, routingKey)
}

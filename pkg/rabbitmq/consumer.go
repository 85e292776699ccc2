package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const consumerPrefetch = 8

// Handler processes one delivery. Returning false asks for one redelivery.
type Handler func(body []byte) bool

// Consumer owns one connection and channel and can serve several donation
// event queues.
type Consumer struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// NewConsumer dials the broker with the same bounded timeout as the producer.
func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares a durable queue, binds it to exchange for each
// routing key and dispatches deliveries to the matching handler.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided for queue %s", queueName)
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q.Name, routingKey, err)
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			handleDelivery(q.Name, handlers, d)
		}
		log.Printf("level=info component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", q.Name)
	}()

	return nil
}

// handleDelivery settles one delivery. A message the handler rejects is
// requeued once; a second rejection drops it so a bad event cannot loop.
func handleDelivery(queue string, handlers map[string]Handler, d amqp091.Delivery) {
	sessionID := eventSessionID(d.Body)

	handler, ok := handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler; dropping\" queue=%s routing_key=%s session_id=%s", queue, d.RoutingKey, sessionID)
		ackOrLog(queue, sessionID, d.Ack(false))
		return
	}
	if handler(d.Body) {
		ackOrLog(queue, sessionID, d.Ack(false))
		return
	}
	if d.Redelivered {
		log.Printf("level=error component=rabbitmq_consumer msg=\"handler failed on redelivery; dropping\" queue=%s routing_key=%s session_id=%s", queue, d.RoutingKey, sessionID)
		ackOrLog(queue, sessionID, d.Nack(false, false))
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; requeueing\" queue=%s routing_key=%s session_id=%s", queue, d.RoutingKey, sessionID)
	ackOrLog(queue, sessionID, d.Nack(false, true))
}

func ackOrLog(queue, sessionID string, err error) {
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"settle delivery failed\" queue=%s session_id=%s err=%v", queue, sessionID, err)
	}
}

// eventSessionID pulls session_id out of a donation event body for logging.
func eventSessionID(body []byte) string {
	var envelope struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.SessionID == "" {
		return "unknown"
	}
	return envelope.SessionID
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

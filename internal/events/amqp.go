package events

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const ExchangeName = "events"

// AMQPPublisher publishes events to a durable topic exchange. The routing key
// is the stream name in dotted form followed by the event type.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

func dialExchange(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return conn, ch, nil
}

func NewAMQPPublisher(url string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, ch, err := dialExchange(url)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, channel: ch, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, stream string, event Event) error {
	body, err := encode(event)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, ExchangeName, RoutingKey(stream, event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Type:         event.Type,
	})
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// AMQPSubscriber consumes a stream through an exclusive auto-delete queue.
type AMQPSubscriber struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

func NewAMQPSubscriber(url string, log *zap.Logger) (*AMQPSubscriber, error) {
	conn, ch, err := dialExchange(url)
	if err != nil {
		return nil, err
	}
	return &AMQPSubscriber{conn: conn, channel: ch, log: log}, nil
}

func (s *AMQPSubscriber) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	q, err := s.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := s.channel.QueueBind(q.Name, streamKey(stream)+".#", ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := s.channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				deliver(msg.Body, handler, s.log)
			}
		}
	}()
	return nil
}

func (s *AMQPSubscriber) Close() {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// RoutingKey maps ("events:project", "escrow_funded") to "events.project.escrow_funded".
func RoutingKey(stream, eventType string) string {
	return streamKey(stream) + "." + eventType
}

func streamKey(stream string) string {
	return strings.ReplaceAll(stream, ":", ".")
}

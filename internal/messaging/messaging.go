// Package messaging publishes completed evaluations to collaborators.
//
// The core pipeline owns no persistence or reporting surface; an optional
// AMQP publisher hands finished FinalEvaluation payloads to whatever
// consumes the queue (storage writers, dashboards, alerting).
package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// Publisher delivers completed evaluations to an external consumer.
type Publisher interface {
	PublishEvaluation(ctx context.Context, final models.FinalEvaluation) error
	Close() error
}

// Opts holds configuration for the AMQP publisher.
type Opts struct {
	URL   string
	Queue string
}

// Option configures the AMQP publisher.
type Option func(*Opts)

// WithURL sets the AMQP broker URL.
func WithURL(url string) Option {
	return func(o *Opts) { o.URL = url }
}

// WithQueue sets the queue evaluations are published to.
func WithQueue(queue string) Option {
	return func(o *Opts) { o.Queue = queue }
}

// AMQPPublisher publishes evaluations to a durable AMQP queue.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPPublisher connects to the broker and declares the queue.
func NewAMQPPublisher(opts ...Option) (*AMQPPublisher, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" || cfg.Queue == "" {
		return nil, fmt.Errorf("AMQP URL and queue name are required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare AMQP queue %s: %w", cfg.Queue, err)
	}
	slog.Info("messaging.NewAMQPPublisher: connected", "queue", cfg.Queue)
	return &AMQPPublisher{conn: conn, ch: ch, queue: cfg.Queue}, nil
}

// PublishEvaluation sends one evaluation as a persistent JSON message.
func (p *AMQPPublisher) PublishEvaluation(ctx context.Context, final models.FinalEvaluation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := final.ToJSON()
	if err != nil {
		return err
	}
	if err := p.ch.Publish(
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    final.EvaluationID,
			Body:         []byte(body),
		},
	); err != nil {
		return fmt.Errorf("failed to publish evaluation %s: %w", final.EvaluationID, err)
	}
	slog.Debug("messaging.PublishEvaluation: published", "evaluation", final.EvaluationID, "queue", p.queue)
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

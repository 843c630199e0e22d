package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"statefuzz/config"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher sends JSON messages to durable queues.
type Publisher interface {
	Publish(ctx context.Context, queue string, body any) error
}

// rabbitPublisher keeps one connection and channel to the broker and
// reconnects when either was closed.
type rabbitPublisher struct {
	url    string
	logger *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewRabbitMQ returns nil when RABBITMQ_URL is unset. Otherwise the broker
// must be reachable when the app starts.
func NewRabbitMQ(p RabbitMQParams) Publisher {
	if p.Config.Backends.RabbitMQURL == "" {
		p.Logger.Debug("no RabbitMQ configured")
		return nil
	}
	r := &rabbitPublisher{
		url:    p.Config.Backends.RabbitMQURL,
		logger: p.Logger,
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, err := r.channel(); err != nil {
				return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
			}
			r.logger.Debug("connected to RabbitMQ")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reset()
			return nil
		},
	})
	return r
}

// channel returns the open channel, dialing again if needed. r.mu is held.
func (r *rabbitPublisher) channel() (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	if r.conn == nil || r.conn.IsClosed() {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			return nil, err
		}
		r.conn = conn
		r.declared = make(map[string]bool)
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	r.ch = ch
	return ch, nil
}

func (r *rabbitPublisher) reset() {
	if r.ch != nil {
		r.ch.Close()
		r.ch = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Publish declares queue on first use and sends body as a persistent JSON
// message. A failed send is retried once on a fresh connection.
func (r *rabbitPublisher) Publish(ctx context.Context, queue string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for attempt := 0; ; attempt++ {
		err = r.publish(ctx, queue, msg)
		if err == nil || attempt == 1 || ctx.Err() != nil {
			return err
		}
		r.logger.Warn("publish failed, reconnecting", zap.String("queue", queue), zap.Error(err))
		r.reset()
	}
}

func (r *rabbitPublisher) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	if !r.declared[queue] {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return err
		}
		r.declared[queue] = true
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, msg)
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

const lowStockEventType = "inventory.low_stock"

type lowStockEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	domain.LowStockAlert
}

// RabbitMQNotifier publishes low-stock alerts to a durable topic exchange
// with publisher confirms. Publishes are serialized on one channel.
type RabbitMQNotifier struct {
	url        string
	exchange   string
	routingKey string
	logger     zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
	tag      uint64
}

func NewRabbitMQNotifier(url, exchange, routingKey string, logger zerolog.Logger) (*RabbitMQNotifier, error) {
	n := &RabbitMQNotifier{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger.With().Str("component", "rabbitmq").Logger(),
	}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

// connect must be called with mu held or before the notifier is shared.
func (n *RabbitMQNotifier) connect() error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	err = ch.ExchangeDeclare(
		n.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", n.exchange, err)
	}

	n.conn = conn
	n.ch = ch
	n.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	n.tag = 0

	n.logger.Info().Str("exchange", n.exchange).Msg("connected to rabbitmq")
	return nil
}

func (n *RabbitMQNotifier) NotifyLowStock(ctx context.Context, alert domain.LowStockAlert) error {
	body, err := json.Marshal(lowStockEvent{
		Type:          lowStockEventType,
		OccurredAt:    time.Now().UTC(),
		LowStockAlert: alert,
	})
	if err != nil {
		return fmt.Errorf("marshal low stock event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil || n.conn.IsClosed() {
		if err := n.connect(); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	err = n.ch.Publish(
		n.exchange,   // exchange
		n.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		n.conn.Close()
		n.conn = nil
		return fmt.Errorf("publish low stock event: %w", err)
	}
	n.tag++

	return n.awaitConfirm(ctx, n.tag)
}

// awaitConfirm skips confirmations left over from publishes whose caller
// stopped waiting.
func (n *RabbitMQNotifier) awaitConfirm(ctx context.Context, tag uint64) error {
	for {
		select {
		case confirm, ok := <-n.confirms:
			if !ok {
				n.conn = nil
				return errors.New("channel closed before publish was confirmed")
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return errors.New("low stock event nacked by broker")
			}
			n.logger.Debug().Uint64("tag", confirm.DeliveryTag).Msg("low stock event confirmed")
			return nil
		case <-ctx.Done():
			return fmt.Errorf("publish confirmation: %w", ctx.Err())
		}
	}
}

func (n *RabbitMQNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil || n.conn.IsClosed() {
		return nil
	}
	return n.conn.Close()
}

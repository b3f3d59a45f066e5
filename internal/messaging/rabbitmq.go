package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries    = 5
	retryInterval = 2 * time.Second

	// NotificationsExchange is the topic exchange notification emails are published to.
	NotificationsExchange = "notifications"
	// EmailQueue receives every notification.email.* message.
	EmailQueue = "email_notifications"
)

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("rabbitmq not connected")

// Connection wraps an amqp.Connection with a dedicated publisher channel and
// reconnects in the background when the broker drops it.
type Connection struct {
	logger      logrus.FieldLogger
	url         string
	conn        *amqp.Connection
	pubChannel  *amqp.Channel
	mu          sync.RWMutex // guards conn, pubChannel and isConnected
	isConnected bool
	notifyClose chan *amqp.Error
	done        chan struct{}
	closeOnce   sync.Once
}

// NewConnection dials the broker, retrying a few times, and declares the
// notification topology.
func NewConnection(url string, logger logrus.FieldLogger) (*Connection, error) {
	c := &Connection{
		logger: logger.WithField("component", "rabbitmq"),
		url:    url,
		done:   make(chan struct{}),
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = c.connect(); err != nil {
			c.logger.WithError(err).Warnf("rabbitmq connect attempt %d/%d failed", i+1, maxRetries)
			time.Sleep(retryInterval)
			continue
		}
		if err = c.SetupTopology(); err != nil {
			c.Close()
			return nil, fmt.Errorf("setup rabbitmq topology: %w", err)
		}
		go c.reconnectLoop()
		return c, nil
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", maxRetries, err)
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open publisher channel: %w", err)
	}

	c.conn = conn
	c.pubChannel = ch
	c.isConnected = true
	c.notifyClose = make(chan *amqp.Error, 1)
	c.conn.NotifyClose(c.notifyClose)

	c.logger.Info("rabbitmq connection established")
	return nil
}

func (c *Connection) reconnectLoop() {
	for {
		c.mu.RLock()
		notifyClose := c.notifyClose
		c.mu.RUnlock()

		select {
		case <-c.done:
			return
		case amqpErr, ok := <-notifyClose:
			if !ok || amqpErr == nil {
				return // graceful close
			}
			c.logger.WithError(amqpErr).Error("rabbitmq connection lost")

			c.mu.Lock()
			c.isConnected = false
			c.mu.Unlock()

			backoff := time.Second
			for {
				select {
				case <-c.done:
					return
				case <-time.After(backoff):
				}

				if err := c.connect(); err != nil {
					c.logger.WithError(err).Warn("rabbitmq reconnect failed")
					backoff = min(time.Duration(float64(backoff)*1.5), 30*time.Second)
					continue
				}
				if err := c.SetupTopology(); err != nil {
					c.logger.WithError(err).Warn("rabbitmq topology redeclare failed")
					continue
				}
				c.logger.Info("rabbitmq reconnected")
				break
			}
		}
	}
}

// SetupTopology declares the notifications exchange and the email queue.
func (c *Connection) SetupTopology() error {
	c.mu.RLock()
	if !c.isConnected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	ch, err := c.conn.Channel()
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("open setup channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(NotificationsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", NotificationsExchange, err)
	}
	if _, err := ch.QueueDeclare(EmailQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", EmailQueue, err)
	}
	if err := ch.QueueBind(EmailQueue, "notification.email.*", NotificationsExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", EmailQueue, err)
	}
	return nil
}

// Publish sends a persistent JSON message. It is goroutine-safe.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	return c.pubChannel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Close shuts the connection down and stops reconnecting.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.pubChannel != nil {
			_ = c.pubChannel.Close()
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.isConnected = false
	})
}

// RawPublisher is the part of Connection the notification publisher needs.
type RawPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Publisher publishes JSON events to the notifications exchange.
type Publisher struct {
	conn     RawPublisher
	exchange string
}

// NewPublisher creates a Publisher on top of a broker connection.
func NewPublisher(conn RawPublisher) *Publisher {
	return &Publisher{conn: conn, exchange: NotificationsExchange}
}

// PublishJSON marshals v and publishes it with the given routing key.
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.conn.Publish(ctx, p.exchange, routingKey, body); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

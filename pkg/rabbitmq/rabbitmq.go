package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bookstore/internal/metrics"
	"bookstore/internal/models"
	"bookstore/internal/notify"

	amqp "github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	// DefaultQueue receives inventory change events when no queue is configured.
	DefaultQueue = "inventory_changes"
	// DefaultPublishBuffer is how many events may wait for the broker.
	DefaultPublishBuffer = 256
)

// channel is the part of *amqp.Channel the client uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn  *amqp.Connection
	queue string
	log   *zap.Logger
	m     *metrics.Metrics

	// amqp channels must not be used for publishing from several goroutines.
	mu      sync.Mutex
	channel channel

	// Publish enqueues on events; one goroutine drains it to the channel.
	sendMu sync.RWMutex
	closed bool
	events chan notify.ChangeEvent
	done   chan struct{}
}

// Config holds RabbitMQ connection details. Buffer bounds the events
// waiting to be forwarded; zero means DefaultPublishBuffer.
type Config struct {
	URL    string
	Queue  string
	Buffer int
}

// NewClient connects to RabbitMQ, opens a channel and declares the durable
// change queue.
func NewClient(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c, err := newClient(ch, cfg, log, m)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func newClient(ch channel, cfg Config, log *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Buffer < 1 {
		cfg.Buffer = DefaultPublishBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := declare(ch, cfg.Queue); err != nil {
		return nil, fmt.Errorf("failed to declare %s: %w", cfg.Queue, err)
	}
	log.Info("RabbitMQ client connected", zap.String("queue", cfg.Queue))

	c := &Client{
		channel: ch,
		queue:   cfg.Queue,
		log:     log,
		m:       m,
		events:  make(chan notify.ChangeEvent, cfg.Buffer),
		done:    make(chan struct{}),
	}
	go c.forward()
	return c, nil
}

func declare(ch channel, queue string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
}

// Close forwards the events already queued, then closes the RabbitMQ
// channel and connection. Events published afterwards are dropped.
func (c *Client) Close() error {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	c.sendMu.Unlock()
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

// Publish queues ev for the change queue, where it is sent as a persistent
// JSON message. It implements notify.Publisher and never waits on the
// broker: when the queue is full or the client is closed the event is
// dropped, logged and counted. Nothing is returned to the writer whose
// change has already been committed.
func (c *Client) Publish(ctx context.Context, ev notify.ChangeEvent) {
	if err := c.enqueue(ctx, ev); err != nil {
		c.failed(ev, err)
	}
}

func (c *Client) enqueue(ctx context.Context, ev notify.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return errors.New("RabbitMQ client is closed")
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return errors.New("publish buffer is full")
	}
}

// forward sends queued events until Close.
func (c *Client) forward() {
	defer close(c.done)
	for ev := range c.events {
		if err := c.publish(ev); err != nil {
			c.failed(ev, err)
		}
	}
}

func (c *Client) failed(ev notify.ChangeEvent, err error) {
	c.m.BrokerPublishFailed()
	c.log.Warn("failed to forward change event",
		zap.String("scope", ev.Path), zap.String("op", string(ev.Op)), zap.Error(err))
}

func (c *Client) publish(ev notify.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return errors.New("RabbitMQ channel is not available")
	}
	err = c.channel.Publish(
		"",      // default exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         string(ev.Op),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	c.log.Debug("change event forwarded", zap.ByteString("body", body))
	return nil
}

// ConsumeChanges registers a manual-ack consumer on the change queue and
// passes every decoded event to handler on a separate goroutine. Messages
// the handler fails are nacked and requeued; messages that do not decode
// are dropped.
func (c *Client) ConsumeChanges(handler func(notify.ChangeEvent) error) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return errors.New("RabbitMQ channel is not available for consumption")
	}

	queue, err := declare(ch, c.queue)
	if err != nil {
		return fmt.Errorf("failed to declare queue for consuming: %w", err)
	}
	msgs, err := ch.Consume(
		queue.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.log.Info("waiting for change events", zap.String("queue", queue.Name))
	go func() {
		for msg := range msgs {
			c.handle(msg, handler)
		}
	}()
	return nil
}

func (c *Client) handle(msg amqp.Delivery, handler func(notify.ChangeEvent) error) {
	ev, err := DecodeChange(msg.Body)
	if err != nil {
		c.log.Error("dropping undecodable message", zap.Uint64("tag", msg.DeliveryTag), zap.Error(err))
		if err := msg.Nack(false, false); err != nil {
			c.log.Error("failed to nack message", zap.Uint64("tag", msg.DeliveryTag), zap.Error(err))
		}
		return
	}

	if err := handler(ev); err != nil {
		c.log.Warn("change handler failed, requeueing", zap.Uint64("tag", msg.DeliveryTag), zap.Error(err))
		if err := msg.Nack(false, true); err != nil {
			c.log.Error("failed to nack message", zap.Uint64("tag", msg.DeliveryTag), zap.Error(err))
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.log.Error("failed to ack message", zap.Uint64("tag", msg.DeliveryTag), zap.Error(err))
	}
}

// DecodeChange parses a forwarded change event and restores its scope.
func DecodeChange(body []byte) (notify.ChangeEvent, error) {
	var ev notify.ChangeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	scope, err := models.ParseScope(ev.Path)
	if err != nil {
		return ev, err
	}
	ev.Scope = scope
	return ev, nil
}

// LogChange is a consumer handler that records each forwarded change.
func LogChange(log *zap.Logger) func(notify.ChangeEvent) error {
	return func(ev notify.ChangeEvent) error {
		log.Info("inventory changed",
			zap.String("scope", ev.Path),
			zap.String("op", string(ev.Op)),
			zap.Int64("id", ev.ID),
			zap.Int64("rows", ev.Rows),
			zap.Time("at", ev.At))
		return nil
	}
}

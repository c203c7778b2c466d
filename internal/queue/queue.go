// Package queue connects the worker to its durable RabbitMQ job queue:
// at-least-once delivery, manual acks, broker-owned retry policy.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/scanner"
)

// Handler processes one decoded job. A nil return acks the delivery; an
// error nacks it with the classified reason logged. Requeueing stays with
// the broker (dead-letter policy), except persistence faults, which are
// requeued directly: the job itself is fine, the worker could not record it.
type Handler func(ctx context.Context, job model.JobPayload) error

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
}

// Consumer pulls scan jobs and dispatches them to a bounded worker group.
type Consumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	workers int
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewConsumer dials the broker and declares the durable queue. Prefetch is
// capped at the worker count so the broker never hands out more jobs than
// the group can hold.
func NewConsumer(url, queueName string, workers int, perSecond float64, logger *zap.SugaredLogger) (*Consumer, error) {
	if workers < 1 {
		workers = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}
	if _, err := declareQueue(ch, queueName); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %q: %w", queueName, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	return &Consumer{
		conn:    conn,
		ch:      ch,
		queue:   queueName,
		workers: workers,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Run consumes deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	deliveries, err := c.ch.Consume(
		c.queue,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	c.logger.Infow("consuming scan jobs", "queue", c.queue, "workers", c.workers)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				_ = g.Wait()
				return errors.New("delivery channel closed")
			}
			if err := c.limiter.Wait(gctx); err != nil {
				c.nack(d, false)
				_ = g.Wait()
				return nil
			}
			delivery := d
			g.Go(func() error {
				c.dispatch(gctx, delivery, handle)
				return nil
			})
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery, handle Handler) {
	var job model.JobPayload
	if err := json.Unmarshal(d.Body, &job); err != nil {
		c.logger.Errorw("discarding malformed job payload", "error", err)
		c.nack(d, false)
		return
	}

	if err := handle(ctx, job); err != nil {
		requeue := false
		retriable := true
		var serr *scanner.ScanError
		if errors.As(err, &serr) {
			requeue = serr.Kind == scanner.FailurePersistence
			retriable = serr.Kind.Retriable()
		}
		c.logger.Warnw("job failed",
			"scan_id", job.ScanID,
			"reason", err.Error(),
			"retriable", retriable,
			"requeue", requeue)
		c.nack(d, requeue)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Warnw("acking delivery", "scan_id", job.ScanID, "error", err)
	}
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Warnw("nacking delivery", "error", err)
	}
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Publisher enqueues scan jobs. Used by the ops surface and by tooling.
type Publisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *zap.SugaredLogger
}

func NewPublisher(url, queueName string, logger *zap.SugaredLogger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := declareQueue(ch, queueName); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %q: %w", queueName, err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queueName, logger: logger}, nil
}

// Publish enqueues one job as a persistent message.
func (p *Publisher) Publish(ctx context.Context, job model.JobPayload) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.ch.PublishWithContext(
		pubCtx,
		"", // default exchange
		p.queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ScanID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing job: %w", err)
	}

	p.logger.Debugw("job enqueued", "scan_id", job.ScanID, "queue", p.queue)
	return nil
}

func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

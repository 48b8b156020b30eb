package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ezclips/ezclips-server/internal/metrics"
)

// Channel is the subset of *amqp.Channel the broker queue uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// message is the body published for every job. The job record itself lives
// in the shared store.
type message struct {
	JobID string `json:"job_id"`
	Name  string `json:"name"`
}

// BrokerQueue publishes job ids to RabbitMQ and runs them on whichever
// process consumes the message. Job records live in a Store that every
// process shares, normally Postgres. Messages are acked after the handler
// returns; a redelivered message for a job that is no longer waiting is
// acked and dropped.
type BrokerQueue struct {
	ch       Channel
	conn     io.Closer
	store    Store
	logger   *slog.Logger
	exec     *executor
	handlers handlers
	exchange string
	workers  int

	mu       sync.Mutex
	declared map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// DialBroker connects to url and returns a queue on a fresh channel.
func DialBroker(url, prefix string, store Store, workers int, logger *slog.Logger, m *metrics.Metrics) (*BrokerQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	q, err := NewBrokerQueue(ch, prefix, store, workers, logger, m)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

// NewBrokerQueue declares the durable topic exchange named prefix and
// returns a queue publishing through ch.
func NewBrokerQueue(ch Channel, prefix string, store Store, workers int, logger *slog.Logger, m *metrics.Metrics) (*BrokerQueue, error) {
	if prefix == "" {
		prefix = "ezclips"
	}
	if workers < 1 {
		workers = 1
	}

	err := ch.ExchangeDeclare(
		prefix,  // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", prefix, err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	return &BrokerQueue{
		ch:       ch,
		store:    store,
		logger:   logger,
		exec:     &executor{store: store, logger: logger, metrics: m},
		exchange: prefix,
		workers:  workers,
		declared: make(map[string]bool),
	}, nil
}

func (q *BrokerQueue) queueName(jobName string) string {
	return q.exchange + "." + jobName
}

// declare makes sure the durable queue for jobName exists and is bound.
func (q *BrokerQueue) declare(jobName string) (string, error) {
	name := q.queueName(jobName)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[jobName] {
		return name, nil
	}

	_, err := q.ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	if err := q.ch.QueueBind(name, jobName, q.exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s: %w", name, err)
	}
	q.declared[jobName] = true
	return name, nil
}

func (q *BrokerQueue) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (string, error) {
	job, err := newJob(name, payload, opts)
	if err != nil {
		return "", err
	}
	if _, err := q.declare(name); err != nil {
		return "", err
	}
	if err := q.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	body, _ := json.Marshal(message{JobID: job.ID, Name: name})
	err = q.ch.PublishWithContext(ctx,
		q.exchange, // exchange
		name,       // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		reason := fmt.Sprintf("failed to publish job: %v", err)
		if ferr := q.store.Finish(context.WithoutCancel(ctx), job.ID, StateFailed, 0, reason); ferr != nil {
			q.logger.Error("failed to record publish failure", "job_id", job.ID, "error", ferr)
		}
		return "", fmt.Errorf("publish job %s: %w", job.ID, err)
	}

	q.exec.metrics.JobState(name, string(StateWaiting))
	q.logger.Debug("job published", "job_id", job.ID, "job_name", name, "exchange", q.exchange)
	return job.ID, nil
}

func (q *BrokerQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// RegisterHandler binds name to h and, once started, begins consuming its
// queue. Messages for names with no handler stay on the broker.
func (q *BrokerQueue) RegisterHandler(name string, h Handler) error {
	if err := q.handlers.register(name, h); err != nil {
		return err
	}
	q.mu.Lock()
	ctx := q.ctx
	q.mu.Unlock()
	if ctx != nil {
		return q.consume(ctx, name)
	}
	return nil
}

func (q *BrokerQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.ctx != nil {
		q.mu.Unlock()
		return nil
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	ctx = q.ctx
	q.mu.Unlock()

	for _, name := range q.handlers.names() {
		if err := q.consume(ctx, name); err != nil {
			return err
		}
	}
	q.logger.Info("broker job queue started", "exchange", q.exchange, "workers", q.workers)
	return nil
}

func (q *BrokerQueue) Close() error {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	err := q.ch.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (q *BrokerQueue) consume(ctx context.Context, jobName string) error {
	queue, err := q.declare(jobName)
	if err != nil {
		return err
	}
	deliveries, err := q.ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handleDelivery(ctx, d)
				}
			}
		}()
	}
	return nil
}

func (q *BrokerQueue) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var msg message
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.JobID == "" {
		q.logger.Warn("dropping malformed job message", "error", err)
		_ = d.Reject(false)
		return
	}

	won, err := q.store.Claim(ctx, msg.JobID)
	if err != nil {
		q.logger.Error("failed to claim job, requeueing", "job_id", msg.JobID, "error", err)
		_ = d.Nack(false, true)
		return
	}
	if !won {
		q.logger.Info("skipping job that is not waiting", "job_id", msg.JobID, "redelivered", d.Redelivered)
		_ = d.Ack(false)
		return
	}

	job, err := q.store.Get(ctx, msg.JobID)
	if err != nil || job == nil {
		q.logger.Error("claimed job vanished", "job_id", msg.JobID, "error", err)
		_ = d.Ack(false)
		return
	}

	h, _ := q.handlers.get(job.Name)
	_ = q.exec.run(ctx, job, h)
	if err := d.Ack(false); err != nil {
		q.logger.Warn("failed to ack job message", "job_id", job.ID, "error", err)
	}
}

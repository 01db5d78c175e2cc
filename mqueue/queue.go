// Package mqueue implements the durable, priority-aware work queue that
// hands package names from the observers to the analysis pipeline. It
// wraps RabbitMQ through the AMQPConnection/AMQPChannel/AMQPDialer
// abstractions in amqp_interface.go, the same dependency-injection shape
// the original RabbitMQ service used, now generalized from a single
// flow-process queue to two priority queues carrying retryable work items.
package mqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

// Envelope is the wire shape of one work item: the package name to
// (re-)analyze, when it was first pushed, how many times handling it has
// been retried, and its priority. Priority 1 (realtime) is consumed
// preferentially over priority 0 (stale).
type Envelope struct {
	Name       string    `json:"name"`
	PushedAt   time.Time `json:"pushedAt"`
	RetryCount int       `json:"retryCount"`
	Priority   int       `json:"priority"`
}

// ConsumeOptions configures Consume's handler pool and retry policy.
type ConsumeOptions struct {
	// Concurrency is both the number of worker goroutines and the prefetch
	// count handed to the broker on each priority queue.
	Concurrency int
	// MaxRetries is the number of attempts (including the first) before an
	// item is dead-lettered instead of republished.
	MaxRetries int
	// OnRetriesExceeded, if set, is called once per item right before it is
	// dead-lettered.
	OnRetriesExceeded func(Envelope, error)
}

// Handler processes one work item. A non-nil error marks the item for
// retry — republished at the tail of its priority queue with RetryCount
// incremented — until MaxRetries is reached, at which point it is
// dead-lettered.
type Handler func(ctx context.Context, item Envelope) error

// Queue is the durable work queue from spec.md §4.2: two durable RabbitMQ
// queues, `<name>.p1` (realtime) and `<name>.p0` (stale), with p1 consumed
// preferentially, and a shared dead-letter target for items that exhaust
// their retries.
type Queue struct {
	name       string
	maxRetries int

	mu      sync.Mutex
	conn    AMQPConnection
	channel AMQPChannel

	supervisor *supervisor
	confirms   chan amqp.Confirmation
}

// Open connects to the broker named in cfg, declares both priority queues
// and their shared dead-letter queue, and returns a ready-to-use Queue with
// publisher confirms enabled.
func Open(ctx context.Context, cfg config.BrokerConfig) (*Queue, error) {
	return OpenWithDialer(ctx, cfg, &RealAMQPDialer{})
}

// OpenWithDialer is Open with an injectable dialer, for tests.
func OpenWithDialer(ctx context.Context, cfg config.BrokerConfig, dialer AMQPDialer) (*Queue, error) {
	q := &Queue{
		name:       cfg.QueueName,
		maxRetries: cfg.MaxRetries,
	}
	q.supervisor = newSupervisor(dialer, cfg.URL, DefaultReconnectConfig(), nil)

	conn, ch, err := q.supervisor.dial(ctx)
	if err != nil {
		return nil, common.Classify(common.KindFatal, "mqueue", "initial dial failed", err)
	}
	if err := q.attach(conn, ch, cfg.PrefetchCount); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) queueName(priority int) string {
	if priority > 0 {
		return q.name + ".p1"
	}
	return q.name + ".p0"
}

func (q *Queue) deadLetterQueueName() string {
	return q.name + ".dead"
}

func (q *Queue) attach(conn AMQPConnection, ch AMQPChannel, prefetch int) error {
	if _, err := ch.QueueDeclare(q.deadLetterQueueName(), true, false, false, false, nil); err != nil {
		return common.Classify(common.KindFatal, "mqueue", "declare dead-letter queue", err)
	}

	for _, priority := range []int{0, 1} {
		_, err := ch.QueueDeclare(q.queueName(priority), true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.deadLetterQueueName(),
		})
		if err != nil {
			return common.Classify(common.KindFatal, "mqueue", "declare work queue", err)
		}
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return common.Classify(common.KindFatal, "mqueue", "set prefetch", err)
		}
	}

	if err := ch.Confirm(false); err != nil {
		return common.Classify(common.KindFatal, "mqueue", "enable publisher confirms", err)
	}

	q.mu.Lock()
	q.conn = conn
	q.channel = ch
	q.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	q.mu.Unlock()
	return nil
}

// Push enqueues name at the given priority (0 = stale, 1 = realtime) with
// an empty retry history, blocking until the broker confirms persistence
// or ctx expires.
func (q *Queue) Push(ctx context.Context, name string, priority int) error {
	return q.push(ctx, Envelope{Name: name, PushedAt: time.Now(), RetryCount: 0, Priority: priority})
}

func (q *Queue) push(ctx context.Context, item Envelope) error {
	body, err := json.Marshal(item)
	if err != nil {
		return common.Classify(common.KindUnrecoverable, "mqueue", "marshal envelope", err)
	}

	q.mu.Lock()
	ch := q.channel
	confirms := q.confirms
	q.mu.Unlock()

	if err := ch.Publish("", q.queueName(item.Priority), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}); err != nil {
		return common.Classify(common.KindTransient, "mqueue", "publish", err)
	}

	select {
	case confirm, ok := <-confirms:
		if !ok || !confirm.Ack {
			return common.Classify(common.KindTransient, "mqueue", "publish not confirmed", fmt.Errorf("broker nacked the message"))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume registers exactly one handler and runs opts.Concurrency workers
// against both priority queues, each worker preferring a p1 (realtime)
// delivery over a p0 (stale) one whenever both are ready. Prefetch on each
// queue equals opts.Concurrency so no worker starves while another holds a
// backlog of unacked deliveries (spec.md §4.2). It blocks until ctx is
// cancelled or the broker reports a fatal condition, in which case the
// caller is expected to Close and reopen the Queue.
func (q *Queue) Consume(ctx context.Context, opts ConsumeOptions, handle Handler) error {
	q.mu.Lock()
	ch := q.channel
	conn := q.conn
	q.mu.Unlock()

	if opts.Concurrency > 0 {
		if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
			return common.Classify(common.KindFatal, "mqueue", "set consumer prefetch", err)
		}
	}

	p1, err := ch.Consume(q.queueName(1), "", false, false, false, false, nil)
	if err != nil {
		return common.Classify(common.KindFatal, "mqueue", "register p1 consumer", err)
	}
	p0, err := ch.Consume(q.queueName(0), "", false, false, false, false, nil)
	if err != nil {
		return common.Classify(common.KindFatal, "mqueue", "register p0 consumer", err)
	}

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			q.runWorker(workerCtx, p1, p0, opts, handle)
		}()
	}

	fatalCh := make(chan error, 1)
	go func() { fatalCh <- watch(conn, ch) }()

	var fatalErr error
	select {
	case fatalErr = <-fatalCh:
		if fatalErr != nil {
			common.Logger.WithError(fatalErr).Error("mqueue: fatal broker condition, stopping consumer")
			stopWorkers()
		}
	case <-ctx.Done():
	}

	wg.Wait()
	return fatalErr
}

func (q *Queue) runWorker(ctx context.Context, p1, p0 <-chan amqp.Delivery, opts ConsumeOptions, handle Handler) {
	for {
		d, ok := nextDelivery(ctx, p1, p0)
		if !ok {
			return
		}
		q.handleDelivery(ctx, d, opts, handle)
	}
}

// nextDelivery prefers a p1 delivery whenever one is immediately available,
// falling back to whichever of p1/p0 becomes ready first.
func nextDelivery(ctx context.Context, p1, p0 <-chan amqp.Delivery) (amqp.Delivery, bool) {
	select {
	case d, ok := <-p1:
		return d, ok
	default:
	}

	select {
	case <-ctx.Done():
		return amqp.Delivery{}, false
	case d, ok := <-p1:
		return d, ok
	case d, ok := <-p0:
		return d, ok
	}
}

func (q *Queue) handleDelivery(ctx context.Context, d amqp.Delivery, opts ConsumeOptions, handle Handler) {
	var item Envelope
	if err := json.Unmarshal(d.Body, &item); err != nil {
		common.Logger.WithError(err).Error("mqueue: dropping undecodable delivery")
		d.Nack(false, false)
		return
	}

	err := handle(ctx, item)
	if err == nil {
		d.Ack(false)
		return
	}

	// Dead-letters once the item has failed maxRetries total times
	// (retryCount 0..maxRetries-1), i.e. retryCount is about to reach
	// maxRetries on this delivery. retryCount counts retries already
	// attempted, not attempts remaining, so maxRetries itself is the
	// count of failures tolerated before giving up.
	if maxRetries := opts.MaxRetries; item.RetryCount+1 >= maxRetries {
		if opts.OnRetriesExceeded != nil {
			opts.OnRetriesExceeded(item, err)
		}
		d.Nack(false, false)
	} else {
		item.RetryCount++
		if pushErr := q.push(ctx, item); pushErr != nil {
			common.Logger.WithError(pushErr).Error("mqueue: failed to republish retried item, requeueing in place")
			d.Nack(false, true)
			return
		}
		d.Ack(false)
	}
}

// Close releases the channel and connection.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

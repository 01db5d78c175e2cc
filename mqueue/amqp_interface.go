package mqueue

import (
	"github.com/streadway/amqp"
)

// AMQPConnection defines the interface for AMQP connection operations.
// This interface abstracts the RabbitMQ connection to enable dependency injection
// and testing with mock implementations.
type AMQPConnection interface {
	// Channel opens a channel on the connection
	Channel() (AMQPChannel, error)

	// NotifyClose registers a channel that receives the connection's close
	// reason, fired on broker-initiated disconnects. The reconnect supervisor
	// selects on this to detect unrecoverable link loss.
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error

	// NotifyBlocked registers a channel that receives TCP-level flow-control
	// notifications. A broker that blocks a connection (e.g. under a
	// resource alarm) is treated as a fatal condition for that connection.
	NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking

	// Close closes the connection
	Close() error
}

// AMQPChannel defines the interface for AMQP channel operations.
// This interface abstracts the RabbitMQ channel to enable dependency injection
// and testing with mock implementations.
type AMQPChannel interface {
	// QueueDeclare declares a queue
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)

	// Qos sets the channel's prefetch count, bounding the number of
	// unacknowledged deliveries a consumer may hold at once.
	Qos(prefetchCount, prefetchSize int, global bool) error

	// Confirm puts the channel into publisher-confirm mode.
	Confirm(noWait bool) error

	// NotifyPublish registers a channel that receives a confirmation for
	// every published message, in publish order.
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation

	// Publish publishes a message to the specified exchange
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

	// Consume starts consuming messages from a queue
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)

	// Ack acknowledges one or more deliveries up to and including the given tag.
	Ack(tag uint64, multiple bool) error

	// Nack negatively acknowledges one or more deliveries, optionally
	// requeueing them.
	Nack(tag uint64, multiple, requeue bool) error

	// QueueInspect retrieves queue information
	QueueInspect(name string) (amqp.Queue, error)

	// NotifyClose registers a channel that receives the channel's close
	// reason, fired when the broker cancels the channel (e.g. a bad
	// QueueDeclare or an exceeded resource limit).
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error

	// NotifyCancel registers a channel that receives the consumer tag when
	// the broker cancels a consumer out-of-band, e.g. because its queue
	// was deleted.
	NotifyCancel(receiver chan string) chan string

	// Close closes the channel
	Close() error
}

// AMQPDialer defines the interface for dialing AMQP connections.
// This interface allows injecting custom dialers for testing.
type AMQPDialer interface {
	// Dial connects to the AMQP server
	Dial(url string) (AMQPConnection, error)
}

// RealAMQPConnection wraps a real amqp.Connection to implement AMQPConnection interface
type RealAMQPConnection struct {
	conn *amqp.Connection
}

// Channel opens a channel on the real connection
func (r *RealAMQPConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &RealAMQPChannel{ch: ch}, nil
}

// NotifyClose forwards to the real connection.
func (r *RealAMQPConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return r.conn.NotifyClose(receiver)
}

// NotifyBlocked forwards to the real connection.
func (r *RealAMQPConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	return r.conn.NotifyBlocked(receiver)
}

// Close closes the real connection
func (r *RealAMQPConnection) Close() error {
	return r.conn.Close()
}

// RealAMQPChannel wraps a real amqp.Channel to implement AMQPChannel interface
type RealAMQPChannel struct {
	ch *amqp.Channel
}

// QueueDeclare declares a queue on the real channel
func (r *RealAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return r.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

// Qos forwards to the real channel.
func (r *RealAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return r.ch.Qos(prefetchCount, prefetchSize, global)
}

// Confirm forwards to the real channel.
func (r *RealAMQPChannel) Confirm(noWait bool) error {
	return r.ch.Confirm(noWait)
}

// NotifyPublish forwards to the real channel.
func (r *RealAMQPChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	return r.ch.NotifyPublish(confirm)
}

// Publish publishes a message to the real channel
func (r *RealAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.ch.Publish(exchange, key, mandatory, immediate, msg)
}

// Consume starts consuming messages from a queue on the real channel
func (r *RealAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return r.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

// Ack forwards to the real channel.
func (r *RealAMQPChannel) Ack(tag uint64, multiple bool) error {
	return r.ch.Ack(tag, multiple)
}

// Nack forwards to the real channel.
func (r *RealAMQPChannel) Nack(tag uint64, multiple, requeue bool) error {
	return r.ch.Nack(tag, multiple, requeue)
}

// QueueInspect retrieves queue information from the real channel
func (r *RealAMQPChannel) QueueInspect(name string) (amqp.Queue, error) {
	return r.ch.QueueInspect(name)
}

// NotifyClose forwards to the real channel.
func (r *RealAMQPChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return r.ch.NotifyClose(receiver)
}

// NotifyCancel forwards to the real channel.
func (r *RealAMQPChannel) NotifyCancel(receiver chan string) chan string {
	return r.ch.NotifyCancel(receiver)
}

// Close closes the real channel
func (r *RealAMQPChannel) Close() error {
	return r.ch.Close()
}

// RealAMQPDialer implements AMQPDialer using the real AMQP library
type RealAMQPDialer struct{}

// Dial connects to the AMQP server using the real library
func (r *RealAMQPDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &RealAMQPConnection{conn: conn}, nil
}

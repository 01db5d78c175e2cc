package mqueue

import (
	"fmt"

	"github.com/streadway/amqp"
)

// MockAMQPConnection is a mock implementation of AMQPConnection for testing
type MockAMQPConnection struct {
	// MockChannel is the channel to return from Channel()
	MockChannel AMQPChannel
	// Error to return from operations
	ChannelErr error
	CloseErr   error
	// Track function calls
	ChannelCalled bool
	CloseCalled   bool

	closeReceiver   chan *amqp.Error
	blockedReceiver chan amqp.Blocking
}

// Channel returns the mock channel
func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	m.ChannelCalled = true
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

// NotifyClose stores the receiver so a test can push a close reason onto it.
func (m *MockAMQPConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	m.closeReceiver = receiver
	return receiver
}

// NotifyBlocked stores the receiver so a test can push a blocking event onto it.
func (m *MockAMQPConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	m.blockedReceiver = receiver
	return receiver
}

// SimulateClose pushes a close reason to whatever receiver NotifyClose was
// last called with, as the broker would on a connection-level error.
func (m *MockAMQPConnection) SimulateClose(reason *amqp.Error) {
	if m.closeReceiver != nil {
		m.closeReceiver <- reason
	}
}

// SimulateBlocked pushes a blocking notification to whatever receiver
// NotifyBlocked was last called with.
func (m *MockAMQPConnection) SimulateBlocked(b amqp.Blocking) {
	if m.blockedReceiver != nil {
		m.blockedReceiver <- b
	}
}

// Close mocks closing the connection
func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPChannel is a mock implementation of AMQPChannel for testing
type MockAMQPChannel struct {
	// PublishedMessages stores all published messages for verification
	PublishedMessages []amqp.Publishing
	// PublishedKeys stores routing keys for published messages
	PublishedKeys []string
	// Deliveries is fed to the channel returned by Consume.
	Deliveries chan amqp.Delivery
	// Acked/Nacked record delivery tags handled by the consumer under test.
	Acked  []uint64
	Nacked []struct {
		Tag     uint64
		Requeue bool
	}
	// Errors to return from operations
	QueueDeclareErr error
	PublishErr      error
	ConsumeErr      error
	CloseErr        error
	// Track function calls
	QueueDeclareCalled bool
	PublishCalled      bool
	CloseCalled        bool
	QosCalled          bool
	ConfirmCalled      bool
	// Store last call parameters
	LastQueueName      string
	LastExchange       string
	LastKey            string
	LastPrefetch       int
	DeclaredQueueNames []string

	confirmReceiver chan amqp.Confirmation
	closeReceiver   chan *amqp.Error
	cancelReceiver  chan string
}

// QueueDeclare mocks declaring a queue
func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.QueueDeclareCalled = true
	m.LastQueueName = name
	m.DeclaredQueueNames = append(m.DeclaredQueueNames, name)
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{
		Name:      name,
		Messages:  0,
		Consumers: 0,
	}, nil
}

// Qos records the requested prefetch count.
func (m *MockAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.QosCalled = true
	m.LastPrefetch = prefetchCount
	return nil
}

// Confirm marks the channel as publisher-confirm enabled.
func (m *MockAMQPChannel) Confirm(noWait bool) error {
	m.ConfirmCalled = true
	return nil
}

// NotifyPublish stores the receiver so tests can simulate confirmations.
func (m *MockAMQPChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	m.confirmReceiver = confirm
	return confirm
}

// SimulateConfirm pushes a publisher confirmation onto the registered receiver.
func (m *MockAMQPChannel) SimulateConfirm(tag uint64, ack bool) {
	if m.confirmReceiver != nil {
		m.confirmReceiver <- amqp.Confirmation{DeliveryTag: tag, Ack: ack}
	}
}

// Publish mocks publishing a message
func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.PublishCalled = true
	m.LastExchange = exchange
	m.LastKey = key
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishedMessages = append(m.PublishedMessages, msg)
	m.PublishedKeys = append(m.PublishedKeys, key)
	return nil
}

// Consume returns the pre-seeded Deliveries channel.
func (m *MockAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	if m.Deliveries == nil {
		m.Deliveries = make(chan amqp.Delivery)
	}
	return m.Deliveries, nil
}

// Ack records the acked delivery tag.
func (m *MockAMQPChannel) Ack(tag uint64, multiple bool) error {
	m.Acked = append(m.Acked, tag)
	return nil
}

// Nack records the nacked delivery tag.
func (m *MockAMQPChannel) Nack(tag uint64, multiple, requeue bool) error {
	m.Nacked = append(m.Nacked, struct {
		Tag     uint64
		Requeue bool
	}{Tag: tag, Requeue: requeue})
	return nil
}

// Close mocks closing the channel
func (m *MockAMQPChannel) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// QueueInspect mocks inspecting a queue
func (m *MockAMQPChannel) QueueInspect(name string) (amqp.Queue, error) {
	return amqp.Queue{Name: name, Messages: len(m.PublishedMessages)}, nil
}

// NotifyClose stores the receiver so a test can simulate a broker-cancelled channel.
func (m *MockAMQPChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	m.closeReceiver = receiver
	return receiver
}

// NotifyCancel stores the receiver so a test can simulate a cancelled consumer.
func (m *MockAMQPChannel) NotifyCancel(receiver chan string) chan string {
	m.cancelReceiver = receiver
	return receiver
}

// SimulateChannelClose pushes a close reason as the broker would on channel-level error.
func (m *MockAMQPChannel) SimulateChannelClose(reason *amqp.Error) {
	if m.closeReceiver != nil {
		m.closeReceiver <- reason
	}
}

// SimulateConsumerCancel pushes a consumer tag as the broker would on cancellation.
func (m *MockAMQPChannel) SimulateConsumerCancel(consumerTag string) {
	if m.cancelReceiver != nil {
		m.cancelReceiver <- consumerTag
	}
}

// MockAMQPDialer is a mock implementation of AMQPDialer for testing
type MockAMQPDialer struct {
	// MockConnection is the connection to return from Dial()
	MockConnection AMQPConnection
	// Error to return from Dial
	DialErr error
	// Track function calls
	DialCalled bool
	// Store last call parameters
	LastURL string
}

// Dial mocks dialing an AMQP connection
func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.DialCalled = true
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// NewMockAMQPDialer creates a new mock AMQP dialer with a successful setup
func NewMockAMQPDialer() *MockAMQPDialer {
	mockChannel := &MockAMQPChannel{
		PublishedMessages: make([]amqp.Publishing, 0),
		PublishedKeys:     make([]string, 0),
	}

	mockConn := &MockAMQPConnection{
		MockChannel: mockChannel,
	}

	return &MockAMQPDialer{
		MockConnection: mockConn,
	}
}

// NewMockAMQPDialerWithError creates a mock dialer that returns an error
func NewMockAMQPDialerWithError(err error) *MockAMQPDialer {
	return &MockAMQPDialer{
		DialErr: err,
	}
}

// GetMockChannel is a helper to get the mock channel from the dialer
func (m *MockAMQPDialer) GetMockChannel() *MockAMQPChannel {
	if m.MockConnection == nil {
		return nil
	}
	mockConn, ok := m.MockConnection.(*MockAMQPConnection)
	if !ok || mockConn.MockChannel == nil {
		return nil
	}
	ch, ok := mockConn.MockChannel.(*MockAMQPChannel)
	if !ok {
		return nil
	}
	return ch
}

// SetupMockDialerForTest creates a fully configured mock dialer for testing
func SetupMockDialerForTest() (*MockAMQPDialer, *MockAMQPChannel, *MockAMQPConnection) {
	mockChannel := &MockAMQPChannel{
		PublishedMessages: make([]amqp.Publishing, 0),
		PublishedKeys:     make([]string, 0),
	}

	mockConn := &MockAMQPConnection{
		MockChannel: mockChannel,
	}

	mockDialer := &MockAMQPDialer{
		MockConnection: mockConn,
	}

	return mockDialer, mockChannel, mockConn
}

// SetupMockDialerWithChannelError creates a mock dialer that fails on channel creation
func SetupMockDialerWithChannelError() *MockAMQPDialer {
	mockConn := &MockAMQPConnection{
		ChannelErr: fmt.Errorf("failed to open channel"),
	}

	return &MockAMQPDialer{
		MockConnection: mockConn,
	}
}

// SetupMockDialerWithQueueError creates a mock dialer that fails on queue declaration
func SetupMockDialerWithQueueError() (*MockAMQPDialer, *MockAMQPChannel) {
	mockChannel := &MockAMQPChannel{
		QueueDeclareErr: fmt.Errorf("failed to declare queue"),
	}

	mockConn := &MockAMQPConnection{
		MockChannel: mockChannel,
	}

	mockDialer := &MockAMQPDialer{
		MockConnection: mockConn,
	}

	return mockDialer, mockChannel
}

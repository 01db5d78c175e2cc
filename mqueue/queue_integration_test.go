//go:build integration

package mqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/npms-io/npms-analyzer/config"
)

func setupRabbitMQContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management-alpine",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
		WaitingFor: wait.ForLog("Server startup complete").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
	time.Sleep(2 * time.Second)

	return url, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
}

func TestQueue_Integration_PushThenConsume(t *testing.T) {
	url, cleanup := setupRabbitMQContainer(t)
	defer cleanup()

	cfg := config.BrokerConfig{URL: url, QueueName: "npms_test_queue", MaxRetries: 3, PrefetchCount: 4}

	producer, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, producer.Push(context.Background(), "left-pad", 0))
	require.NoError(t, producer.Push(context.Background(), "react", 1))

	consumer, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var seen []string

	go func() {
		_ = consumer.Consume(ctx, ConsumeOptions{Concurrency: 2, MaxRetries: 3}, func(ctx context.Context, item Envelope) error {
			mu.Lock()
			seen = append(seen, item.Name)
			mu.Unlock()
			if len(seen) >= 2 {
				cancel()
			}
			return nil
		})
	}()

	<-ctx.Done()
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"left-pad", "react"}, seen)
}

func TestQueue_Integration_RetryThenDeadLetter(t *testing.T) {
	url, cleanup := setupRabbitMQContainer(t)
	defer cleanup()

	cfg := config.BrokerConfig{URL: url, QueueName: "npms_test_retry_queue", MaxRetries: 2, PrefetchCount: 1}

	producer, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.Push(context.Background(), "always-fails", 0))

	consumer, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var attempts int
	var exceeded bool
	go func() {
		_ = consumer.Consume(ctx, ConsumeOptions{
			Concurrency: 1,
			MaxRetries:  cfg.MaxRetries,
			OnRetriesExceeded: func(item Envelope, err error) {
				exceeded = true
				cancel()
			},
		}, func(ctx context.Context, item Envelope) error {
			attempts++
			return fmt.Errorf("simulated evaluation failure")
		})
	}()

	<-ctx.Done()
	time.Sleep(200 * time.Millisecond)

	assert.True(t, exceeded, "item should have been dead-lettered after exhausting retries")
	assert.Equal(t, cfg.MaxRetries, attempts)
}

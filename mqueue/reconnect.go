package mqueue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/streadway/amqp"

	"github.com/npms-io/npms-analyzer/common"
)

// ReconnectConfig bounds the backoff used between dial attempts: a capped
// exponential backoff with jitter and no attempt limit, since a broker
// outage is expected to resolve eventually.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultReconnectConfig mirrors the interval range the coordinator's own
// connection loop used before this package existed.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{InitialDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// supervisor owns the dial loop backing a Queue's connection/channel pair.
type supervisor struct {
	dialer AMQPDialer
	url    string
	cfg    ReconnectConfig

	onReconnect func(attempt int)
}

func newSupervisor(dialer AMQPDialer, url string, cfg ReconnectConfig, onReconnect func(attempt int)) *supervisor {
	return &supervisor{dialer: dialer, url: url, cfg: cfg, onReconnect: onReconnect}
}

// dial connects and opens a channel, retrying with capped exponential
// backoff and jitter until ctx is cancelled.
func (s *supervisor) dial(ctx context.Context) (AMQPConnection, AMQPChannel, error) {
	delay := s.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		conn, err := s.dialer.Dial(s.url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				return conn, ch, nil
			}
			conn.Close()
			err = chErr
		}

		if attempt > 1 && s.onReconnect != nil {
			s.onReconnect(attempt)
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := int64(d) / 2
	return time.Duration(half) + time.Duration(rand.Int63n(half+1))
}

// watch blocks until the connection or channel reports a close, or the
// broker blocks the connection or cancels our consumer. Blocked connections
// and cancelled consumers are treated as fatal: neither self-heals by
// waiting, since both signal a condition (a resource alarm, a redeclared
// queue) that keeps recurring until an operator intervenes.
func watch(conn AMQPConnection, ch AMQPChannel) error {
	connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClose := ch.NotifyClose(make(chan *amqp.Error, 1))
	blocked := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	cancelled := ch.NotifyCancel(make(chan string, 1))

	select {
	case err := <-connClose:
		return common.Classify(common.KindTransient, "mqueue", "connection closed", fmt.Errorf("%v", err))
	case err := <-chClose:
		return common.Classify(common.KindTransient, "mqueue", "channel closed", fmt.Errorf("%v", err))
	case b := <-blocked:
		if !b.Active {
			return nil
		}
		return common.Classify(common.KindFatal, "mqueue", "connection blocked by broker: "+b.Reason, fmt.Errorf("blocked"))
	case tag := <-cancelled:
		return common.Classify(common.KindFatal, "mqueue", "consumer cancelled by broker: "+tag, fmt.Errorf("cancelled"))
	}
}

package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "labels.print.dlx"
	// Dead-lettered print jobs are kept for a week for manual reprint.
	dlqMessageTTL = 7 * 24 * time.Hour

	connectTimeout   = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// RabbitMQ owns the broker connection shared by the print job publisher and
// the relay consumer. The topology is declared once per connection.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	conn     atomic.Pointer[amqp.Connection]
	declared atomic.Bool
	dialMu   sync.Mutex
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	conn := r.conn.Swap(nil)
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// IsConnected reports whether the broker connection is currently open.
func (r *RabbitMQ) IsConnected() bool {
	if r == nil {
		return false
	}
	conn := r.conn.Load()
	return conn != nil && !conn.IsClosed()
}

// channel opens a channel on a live connection, redialling once when the
// cached connection turns out to be dead.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.conn.CompareAndSwap(conn, nil)
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if !r.declared.Load() {
		if err := declareTopology(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		r.declared.Store(true)
	}
	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.conn.Load(); conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if conn := r.conn.Load(); conn != nil && !conn.IsClosed() {
		return conn, nil
	}
	r.declared.Store(false)

	wait := reconnectBackoff
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.conn.Store(conn)
			return conn, nil
		}

		if sleepErr := sleepContext(ctx, wait); sleepErr != nil {
			return nil, fmt.Errorf("rabbitmq connect aborted: %w (last dial error: %v)", sleepErr, err)
		}
		wait = nextBackoff(wait)
	}
}

type queueSpec struct {
	name       string
	exchange   string
	routingKey string
	args       amqp.Table
}

// topology lists every queue the print flow uses. Work queues dead-letter
// into the per-kind DLQ through the shared DLX.
func topology() []queueSpec {
	specs := make([]queueSpec, 0, 2*len(supportedKinds))
	for _, kind := range supportedKinds {
		key := kindRoutingKey(kind)
		specs = append(specs,
			queueSpec{
				name:       DLQName(kind),
				exchange:   dlxExchangeName,
				routingKey: key,
				args:       amqp.Table{"x-message-ttl": dlqMessageTTL.Milliseconds()},
			},
			queueSpec{
				name: QueueName(kind),
				args: amqp.Table{
					"x-dead-letter-exchange":    dlxExchangeName,
					"x-dead-letter-routing-key": key,
				},
			},
		)
	}
	return specs
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	for _, qs := range topology() {
		if _, err := ch.QueueDeclare(qs.name, true, false, false, false, qs.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", qs.name, err)
		}
		if qs.exchange == "" {
			continue
		}
		if err := ch.QueueBind(qs.name, qs.routingKey, qs.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", qs.name, err)
		}
	}
	return nil
}

func kindRoutingKey(kind domain.LabelKind) string {
	return strings.ToLower(kind.String())
}

func nextBackoff(wait time.Duration) time.Duration {
	wait *= 2
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

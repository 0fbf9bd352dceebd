package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hanko-field/clinic-commerce/internal/services"
)

const defaultKafkaBuffer = 256

// ErrNotifierClosed is returned once Close has been called.
var ErrNotifierClosed = errors.New("kafka notifier: closed")

// messageWriter is the subset of kafka.Writer used by the notifier.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier queues notifications on an inbox drained by a single writer goroutine.
type KafkaNotifier struct {
	writer messageWriter
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	inbox  chan kafka.Message
	done   chan struct{}
}

var _ services.Notifier = (*KafkaNotifier)(nil)

// KafkaOption customises the Kafka notifier.
type KafkaOption func(*KafkaNotifier)

// WithKafkaLogger routes delivery failures to logger.
func WithKafkaLogger(logger *zap.Logger) KafkaOption {
	return func(n *KafkaNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func withKafkaWriter(writer messageWriter) KafkaOption {
	return func(n *KafkaNotifier) {
		if writer != nil {
			n.writer = writer
		}
	}
}

// NewKafkaNotifier builds a notifier writing to topic on brokers and starts its delivery loop.
func NewKafkaNotifier(brokers []string, topic string, buffer int, opts ...KafkaOption) (*KafkaNotifier, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka notifier: topic is required")
	}
	if buffer <= 0 {
		buffer = defaultKafkaBuffer
	}
	n := &KafkaNotifier{
		logger: zap.NewNop(),
		inbox:  make(chan kafka.Message, buffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.writer == nil {
		if len(brokers) == 0 {
			return nil, errors.New("kafka notifier: at least one broker is required")
		}
		n.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	go n.run()
	return n, nil
}

// Notify enqueues the notification keyed by its subject id. It never blocks on the broker; a
// full inbox is reported as an error.
func (n *KafkaNotifier) Notify(ctx context.Context, notification services.Notification) error {
	data, msg, err := encode(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	headers := make([]kafka.Header, 0, 2)
	for key, value := range attributes(msg) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	record := kafka.Message{
		Key:     []byte(msg.SubjectID),
		Value:   data,
		Time:    msg.CreatedAt,
		Headers: headers,
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	select {
	case n.inbox <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("kafka notifier: inbox full, dropping %s", msg.Type)
	}
}

// Close stops accepting notifications, flushes the inbox and closes the writer.
func (n *KafkaNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.inbox)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *KafkaNotifier) run() {
	defer close(n.done)
	for record := range n.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := n.writer.WriteMessages(ctx, record); err != nil {
			n.logger.Warn("kafka notification delivery failed",
				zap.ByteString("key", record.Key),
				zap.Error(err),
			)
		}
		cancel()
	}
	if err := n.writer.Close(); err != nil {
		n.logger.Warn("kafka writer close failed", zap.Error(err))
	}
}

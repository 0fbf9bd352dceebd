package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/clinic-commerce/internal/services"
)

func sampleNotification() services.Notification {
	return services.Notification{
		Type:      "order.created",
		Subject:   "order",
		SubjectID: "ord_01",
		UserID:    "user-1",
		Status:    "pending",
		ActorID:   "user-1",
		Data:      map[string]string{"paymentMethod": "COD"},
		CreatedAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
}

func TestPubSubNotifierPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	notifier, err := NewPubSubNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotifier: %v", err)
	}

	if err := notifier.Notify(ctx, sampleNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload Message
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SubjectID != "ord_01" || payload.Data["paymentMethod"] != "COD" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["type"]; attr != "order.created" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["userId"]; ok {
		t.Fatalf("user id should not be exposed as an attribute")
	}
}

func TestNewPubSubNotifierRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotifier(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaNotifierFlushesOnClose(t *testing.T) {
	writer := &recordingWriter{}
	notifier, err := NewKafkaNotifier(nil, "notifications", 4, withKafkaWriter(writer))
	if err != nil {
		t.Fatalf("NewKafkaNotifier: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := notifier.Notify(ctx, sampleNotification()); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := notifier.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.messages) != 3 || !writer.closed {
		t.Fatalf("expected 3 flushed messages and a closed writer, got %d closed=%v", len(writer.messages), writer.closed)
	}
	if string(writer.messages[0].Key) != "ord_01" {
		t.Fatalf("expected subject id key, got %q", writer.messages[0].Key)
	}
	if err := notifier.Notify(ctx, sampleNotification()); !errors.Is(err, ErrNotifierClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestKafkaNotifierLogsDeliveryFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	writer := &recordingWriter{err: errors.New("broker down")}
	notifier, err := NewKafkaNotifier(nil, "notifications", 1, withKafkaWriter(writer), WithKafkaLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("NewKafkaNotifier: %v", err)
	}
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := notifier.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if logs.FilterMessage("kafka notification delivery failed").Len() != 1 {
		t.Fatalf("expected delivery failure to be logged, got %v", logs.All())
	}
}

func TestNewKafkaNotifierValidates(t *testing.T) {
	if _, err := NewKafkaNotifier([]string{"localhost:9092"}, " ", 0); err == nil {
		t.Fatalf("expected error for missing topic")
	}
	if _, err := NewKafkaNotifier(nil, "notifications", 0); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
}

func TestLogNotifierWritesEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewLogNotifier(zap.New(core))
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	entries := logs.FilterMessage("notification").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["subjectId"]; got != "ord_01" {
		t.Fatalf("expected subjectId field, got %v", got)
	}
}

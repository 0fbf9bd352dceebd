package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanko-field/clinic-commerce/internal/platform/observability"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

// LogNotifier writes notifications to the structured log. Used locally and in tests where no
// broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

var _ services.Notifier = LogNotifier{}

func NewLogNotifier(logger *zap.Logger) LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogNotifier{logger: logger}
}

func (n LogNotifier) Notify(_ context.Context, notification services.Notification) error {
	msg := newMessage(notification)
	fields := []zap.Field{
		zap.String("type", msg.Type),
		zap.String("subject", msg.Subject),
		zap.String("subjectId", msg.SubjectID),
		zap.String("status", msg.Status),
		zap.String("actorId", msg.ActorID),
		zap.Time("createdAt", msg.CreatedAt),
	}
	if len(msg.Data) > 0 {
		data := make(map[string]string, len(msg.Data))
		for key, value := range msg.Data {
			data[key] = observability.MaskValue(key, value)
		}
		fields = append(fields, zap.Any("data", data))
	}
	n.logger.Info("notification", fields...)
	return nil
}

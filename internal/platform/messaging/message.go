package messaging

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hanko-field/clinic-commerce/internal/services"
)

// Message is the wire envelope shared by every notification transport.
type Message struct {
	Type      string            `json:"type"`
	Subject   string            `json:"subject"`
	SubjectID string            `json:"subjectId"`
	UserID    string            `json:"userId,omitempty"`
	Status    string            `json:"status,omitempty"`
	ActorID   string            `json:"actorId,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func newMessage(n services.Notification) Message {
	return Message{
		Type:      strings.TrimSpace(n.Type),
		Subject:   strings.TrimSpace(n.Subject),
		SubjectID: strings.TrimSpace(n.SubjectID),
		UserID:    strings.TrimSpace(n.UserID),
		Status:    strings.TrimSpace(n.Status),
		ActorID:   strings.TrimSpace(n.ActorID),
		Data:      n.Data,
		CreatedAt: n.CreatedAt.UTC(),
	}
}

func encode(n services.Notification) ([]byte, Message, error) {
	msg := newMessage(n)
	data, err := json.Marshal(msg)
	return data, msg, err
}

// attributes exposes routing keys so subscribers can filter without decoding the body.
func attributes(msg Message) map[string]string {
	attrs := make(map[string]string)
	setAttr(attrs, "type", msg.Type)
	setAttr(attrs, "subject", msg.Subject)
	setAttr(attrs, "subjectId", msg.SubjectID)
	setAttr(attrs, "status", msg.Status)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

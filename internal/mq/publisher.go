package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип события.
type MessageType string

// Типы событий.
const (
	MessageTypeTaskCompleted      MessageType = "task.completed"
	MessageTypePartitionCompleted MessageType = "partition.completed"
)

// routingKey возвращает ключ маршрутизации для типа события.
func (t MessageType) routingKey() RoutingKey {
	switch t {
	case MessageTypeTaskCompleted:
		return RoutingKeyTaskCompleted
	default:
		return RoutingKeyPartitionCompleted
	}
}

// Message — конверт события.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage упаковывает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode распаковывает payload в v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// TaskCompletedPayload — задача перешла в финальный статус.
type TaskCompletedPayload struct {
	InvocationID uuid.UUID `json:"invocation_id"`
	TaskID       string    `json:"task_id"`
	Partition    string    `json:"partition,omitempty"`
	Func         string    `json:"func"`
	Status       string    `json:"status"` // SUCCEEDED, FAILED или SKIPPED
	Error        string    `json:"error,omitempty"`
	Attempt      int       `json:"attempt"`
}

// PartitionCompletedPayload — итог партиции после завершения вызова.
type PartitionCompletedPayload struct {
	InvocationID uuid.UUID `json:"invocation_id"`
	Partition    string    `json:"partition"`
	Status       string    `json:"status"` // succeeded или failed
	Error        string    `json:"error,omitempty"`
}

// Publisher публикует события вызова в обменник ExchangeEvents.
// Реализует localexec.Notifier.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// PublishTaskCompleted публикует событие о завершённой задаче.
func (p *Publisher) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	return p.publish(ctx, MessageTypeTaskCompleted, payload)
}

// PublishPartitionCompleted публикует итог партиции.
func (p *Publisher) PublishPartitionCompleted(ctx context.Context, payload PartitionCompletedPayload) error {
	return p.publish(ctx, MessageTypePartitionCompleted, payload)
}

func (p *Publisher) publish(ctx context.Context, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := msgType.routingKey()
	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(ExchangeEvents), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msgType),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", key, err)
		}
		p.logger.Debug("event published", "type", msgType, "message_id", msg.ID)
		return nil
	})
}

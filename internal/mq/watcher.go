package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrUnknownEvent — тип события не известен наблюдателю.
var ErrUnknownEvent = errors.New("unknown event type")

// EventHandler — обработчики событий по типу. Незаданный обработчик
// означает, что события этого типа пропускаются.
type EventHandler struct {
	Task      func(msg *Message, p TaskCompletedPayload) error
	Partition func(msg *Message, p PartitionCompletedPayload) error
}

// Watcher читает события из временной очереди наблюдателя.
//
// Очередь объявляется заново при каждом переподключении: брокер удаляет
// её вместе с соединением. Сообщения подтверждаются автоматически,
// ошибки обработчика только логируются.
type Watcher struct {
	conn    *Connection
	logger  *slog.Logger
	handler EventHandler
}

// NewWatcher создаёт Watcher.
func NewWatcher(conn *Connection, logger *slog.Logger, handler EventHandler) *Watcher {
	return &Watcher{conn: conn, logger: logger, handler: handler}
}

// Run читает события до отмены ctx.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		deliveries, queue, err := w.subscribe()
		if err != nil {
			w.logger.Error("failed to subscribe", "error", err)
		} else {
			w.logger.Info("watching events", "queue", queue)
			w.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.conn.Redialed():
			w.logger.Info("resubscribing after reconnect")
		}
	}
}

func (w *Watcher) subscribe() (<-chan amqp.Delivery, string, error) {
	var (
		deliveries <-chan amqp.Delivery
		queue      string
	)
	err := w.conn.WithChannel(func(ch *amqp.Channel) error {
		var err error
		if queue, err = DeclareWatchQueue(ch); err != nil {
			return err
		}
		deliveries, err = ch.Consume(queue, "", true, true, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		return nil
	})
	return deliveries, queue, err
}

// drain обрабатывает доставки, пока канал открыт и ctx не отменён.
func (w *Watcher) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				w.logger.Warn("event channel closed")
				return
			}
			if err := w.dispatch(d.Body); err != nil {
				w.logger.Warn("failed to handle event", "message_id", d.MessageId, "error", err)
			}
		}
	}
}

// dispatch декодирует конверт и вызывает обработчик его типа.
func (w *Watcher) dispatch(body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	switch msg.Type {
	case MessageTypeTaskCompleted:
		if w.handler.Task == nil {
			return nil
		}
		var p TaskCompletedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return w.handler.Task(&msg, p)

	case MessageTypePartitionCompleted:
		if w.handler.Partition == nil {
			return nil
		}
		var p PartitionCompletedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return w.handler.Partition(&msg, p)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Type)
	}
}

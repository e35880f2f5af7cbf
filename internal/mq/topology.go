package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// ExchangeEvents — topic-обменник событий вызова.
const ExchangeEvents Exchange = "alignflow.events"

// QueueEventsLog — durable очередь, в которой копятся все события для
// внешних потребителей.
const QueueEventsLog Queue = "alignflow.events.log"

// Routing keys.
const (
	RoutingKeyTaskCompleted      RoutingKey = "task.completed"
	RoutingKeyPartitionCompleted RoutingKey = "partition.completed"
	RoutingKeyAll                RoutingKey = "#"
)

// SetupTopology объявляет обменник событий и durable очередь журнала.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		if err := declareExchange(ch); err != nil {
			return err
		}

		_, err := ch.QueueDeclare(
			string(QueueEventsLog),
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueEventsLog, err)
		}

		return bindQueue(ch, string(QueueEventsLog), RoutingKeyAll)
	})
}

// DeclareWatchQueue объявляет временную очередь наблюдателя, привязанную
// ко всем событиям. Брокер удаляет её при закрытии соединения.
// Используется Watcher при каждой подписке.
func DeclareWatchQueue(ch *amqp.Channel) (string, error) {
	if err := declareExchange(ch); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		"",    // имя выбирает брокер
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("declare watch queue: %w", err)
	}

	if err := bindQueue(ch, q.Name, RoutingKeyAll); err != nil {
		return "", err
	}
	return q.Name, nil
}

func declareExchange(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		string(ExchangeEvents),
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
	}
	return nil
}

func bindQueue(ch *amqp.Channel, queue string, key RoutingKey) error {
	if err := ch.QueueBind(queue, string(key), string(ExchangeEvents), false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queue, ExchangeEvents, err)
	}
	return nil
}

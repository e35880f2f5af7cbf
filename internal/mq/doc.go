// Package mq публикует события вызова в RabbitMQ и читает их для команды watch.
//
// Структура:
//   - connection.go — соединение с брокером и переподключение в фоне
//   - topology.go   — обменник событий, очередь журнала, очередь наблюдателя
//   - publisher.go  — публикация событий
//   - watcher.go    — чтение событий наблюдателем
//
// Типы сообщений:
//   - task.completed      — задача перешла в SUCCEEDED, FAILED или SKIPPED
//   - partition.completed — итог партиции после завершения вызова
//
// Брокер не обязателен: без RABBITMQ_URL пайплайн работает без событий.
package mq

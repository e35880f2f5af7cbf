package mq

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialBroker подключается к RABBITMQ_URL; без брокера тест пропускается.
func dialBroker(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL is not set")
	}
	conn, err := Dial(url, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, conn.Close()) })
	return conn
}

func TestConnection_ReopensChannelAfterException(t *testing.T) {
	conn := dialBroker(t)

	// Passive declare несуществующей очереди закрывает канал с 404
	err := conn.WithChannel(func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclarePassive("alignflow.missing."+uuid.NewString(), false, false, true, false, nil)
		return err
	})
	require.Error(t, err)

	select {
	case <-conn.Redialed():
	case <-time.After(10 * time.Second):
		t.Fatal("channel was not reopened")
	}

	require.NoError(t, SetupTopology(conn))
	var queue string
	require.NoError(t, conn.WithChannel(func(ch *amqp.Channel) error {
		var err error
		queue, err = DeclareWatchQueue(ch)
		return err
	}))
	assert.NotEmpty(t, queue)
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn := dialBroker(t)
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.WithChannel(func(*amqp.Channel) error { return nil }), errConnectionClosed)
}

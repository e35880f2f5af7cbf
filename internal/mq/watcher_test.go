package mq

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, msgType MessageType, payload any) []byte {
	t.Helper()
	msg, err := NewMessage(msgType, payload)
	require.NoError(t, err)
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestWatcher_Dispatch(t *testing.T) {
	inv := uuid.New()
	var tasks []TaskCompletedPayload
	var parts []PartitionCompletedPayload

	w := NewWatcher(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), EventHandler{
		Task: func(_ *Message, p TaskCompletedPayload) error {
			tasks = append(tasks, p)
			return nil
		},
		Partition: func(msg *Message, p PartitionCompletedPayload) error {
			assert.Equal(t, MessageTypePartitionCompleted, msg.Type)
			parts = append(parts, p)
			return nil
		},
	})

	require.NoError(t, w.dispatch(encode(t, MessageTypeTaskCompleted, TaskCompletedPayload{
		InvocationID: inv, TaskID: "alignflow/chr1", Status: "SUCCEEDED", Attempt: 2,
	})))
	require.NoError(t, w.dispatch(encode(t, MessageTypePartitionCompleted, PartitionCompletedPayload{
		InvocationID: inv, Partition: "chr1", Status: "failed", Error: "boom",
	})))

	require.Len(t, tasks, 1)
	assert.Equal(t, inv, tasks[0].InvocationID)
	assert.Equal(t, 2, tasks[0].Attempt)
	require.Len(t, parts, 1)
	assert.Equal(t, "boom", parts[0].Error)
}

func TestWatcher_DispatchSkipsUnhandledTypes(t *testing.T) {
	w := NewWatcher(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), EventHandler{})
	assert.NoError(t, w.dispatch(encode(t, MessageTypeTaskCompleted, TaskCompletedPayload{TaskID: "x"})))
}

func TestWatcher_DispatchErrors(t *testing.T) {
	w := NewWatcher(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), EventHandler{})

	assert.ErrorIs(t, w.dispatch(encode(t, "run.started", map[string]string{})), ErrUnknownEvent)
	assert.ErrorContains(t, w.dispatch([]byte("{")), "decode message")

	body := []byte(`{"id":"1","type":"partition.completed","payload":"not an object"}`)
	w.handler.Partition = func(*Message, PartitionCompletedPayload) error { return nil }
	assert.ErrorContains(t, w.dispatch(body), "decode partition.completed payload")
}

func TestMessageType_RoutingKey(t *testing.T) {
	assert.Equal(t, RoutingKeyTaskCompleted, MessageTypeTaskCompleted.routingKey())
	assert.Equal(t, RoutingKeyPartitionCompleted, MessageTypePartitionCompleted.routingKey())
}

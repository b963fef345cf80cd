package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daz23456/workflow-sub005/engine/core"
)

func TestRedisForwarder_Forward(t *testing.T) {
	t.Run("Should publish the event as JSON on the configured channel", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		sub := client.Subscribe(context.Background(), "gateway:events")
		defer sub.Close()
		_, err := sub.Receive(context.Background())
		require.NoError(t, err)

		forwarder := NewRedisForwarder(client, "")
		execID := core.ID("11111111-1111-4111-8111-111111111111")
		err = forwarder.Forward(context.Background(), Event{
			Type:        EventTaskCompleted,
			ExecutionID: execID,
			TaskID:      "t1",
			Status:      "Succeeded",
			Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)

		select {
		case msg := <-sub.Channel():
			var evt Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
			assert.Equal(t, EventTaskCompleted, evt.Type)
			assert.Equal(t, execID, evt.ExecutionID)
			assert.Equal(t, "t1", evt.TaskID)
		case <-time.After(time.Second):
			t.Fatal("no event received on the channel")
		}
	})

	t.Run("Should report publish failures", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		mr.Close()
		defer client.Close()

		forwarder := NewRedisForwarder(client, "custom:channel")
		err := forwarder.Forward(context.Background(), Event{Type: EventWorkflowStarted})
		require.Error(t, err)
	})
}

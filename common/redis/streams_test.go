package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublishToStream_FormatsValues(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	id, err := PublishToStream(ctx, client, "test:stream", 0, map[string]interface{}{
		"hr":    72.5,
		"count": 3,
		"ok":    true,
		"name":  "ecg",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "test:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "72.5", msgs[0].Values["hr"])
	assert.Equal(t, "3", msgs[0].Values["count"])
	assert.Equal(t, "true", msgs[0].Values["ok"])
	assert.Equal(t, "ecg", msgs[0].Values["name"])
}

func TestPublishJSONToStream_ReadBackWithGroup(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "cmd:stream", "group-1"))
	// 组已存在时不报错
	require.NoError(t, CreateConsumerGroup(ctx, client, "cmd:stream", "group-1"))

	_, err := PublishJSONToStream(ctx, client, "cmd:stream", 100, map[string]string{"command": "analyze_now"})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, "cmd:stream", "group-1", "consumer-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &payload))
	assert.Equal(t, "analyze_now", payload["command"])

	require.NoError(t, Ack(ctx, client, "cmd:stream", "group-1", msgs[0].ID))
}

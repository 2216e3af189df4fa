package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/chain"
	"github.com/leafsii/lp-points/internal/points"
)

var (
	testPool    = common.HexToAddress("0x84B5a3bD6acB304Cb89fFc43117A18BEDE062376")
	testAccount = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func sampleRecord() points.RewardUpdateRecord {
	return points.RewardUpdateRecord{
		ID:          "7d3f1c2e-0000-4000-8000-000000000001",
		Pool:        testPool.Hex(),
		Account:     testAccount.Hex(),
		Trigger:     chain.KindTimeInterval,
		BlockNumber: 19_600_000,
		Outcome:     points.OutcomeAccrued,
		Pearls:      decimal.NewFromInt(24600),
		ELPoints:    decimal.NewFromInt(12000),
		Current: points.SnapshotFields{
			TimestampMilli: 86_400_000,
			BlockNumber:    19_600_000,
			LptBalance:     "100",
			LptSupply:      "1000",
			ReserveA:       "5000",
			ReserveB:       "5000",
		},
	}
}

func TestInMemoryPublisher(t *testing.T) {
	publisher := NewPublisher("", time.Minute, zap.NewNop().Sugar())
	defer publisher.Close()
	require.True(t, publisher.IsInMemoryMode())
	require.NoError(t, publisher.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := UpdatesChannel(testPool)
	assert.Equal(t, "points:updates:0x84b5a3bd6acb304cb89ffc43117a18bede062376", channel)

	sub := publisher.SubscribeInMemory(ctx, channel)
	require.NotNil(t, sub)
	defer sub.Close()

	require.NoError(t, publisher.Emit(ctx, sampleRecord()))

	select {
	case msg := <-sub.Channel():
		require.NotNil(t, msg)
		assert.Equal(t, channel, msg.Channel)

		var got points.RewardUpdateRecord
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "24600", got.Pearls.String())
		assert.Equal(t, chain.KindTimeInterval, got.Trigger)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for point update")
	}

	latest, err := publisher.Latest(ctx, testPool, testAccount)
	require.NoError(t, err)
	assert.Equal(t, sampleRecord().ID, latest.ID)
	assert.Equal(t, "12000", latest.ELPoints.String())

	_, err = publisher.Latest(ctx, testPool, common.HexToAddress("0xb0b"))
	assert.ErrorIs(t, err, ErrNoUpdate)
}

func TestPublisherFallsBackWhenRedisIsDown(t *testing.T) {
	publisher := NewPublisher("redis://127.0.0.1:1/0", time.Minute, zap.NewNop().Sugar())
	defer publisher.Close()

	assert.True(t, publisher.IsInMemoryMode())
	assert.Nil(t, publisher.Subscribe(context.Background(), UpdatesChannel(testPool)))
	assert.NoError(t, publisher.Emit(context.Background(), sampleRecord()))
}

func TestPubSubHubRouting(t *testing.T) {
	hub := NewPubSubHub()
	ctx, cancel := context.WithCancel(context.Background())

	a := hub.Subscribe(ctx, "a")
	ab := hub.Subscribe(ctx, "a", "b")
	assert.Equal(t, 2, hub.Subscribers("a"))
	assert.Equal(t, 1, hub.Subscribers("b"))

	assert.Equal(t, 2, hub.Publish("a", "x"))
	assert.Equal(t, 1, hub.Publish("b", "y"))
	assert.Equal(t, 0, hub.Publish("c", "z"))

	assert.Equal(t, "x", (<-a.Channel()).Payload)
	assert.Equal(t, "x", (<-ab.Channel()).Payload)
	assert.Equal(t, "y", (<-ab.Channel()).Payload)

	cancel()
	assert.Eventually(t, func() bool {
		return hub.Subscribers("a") == 0 && hub.Subscribers("b") == 0
	}, time.Second, 10*time.Millisecond)

	_, open := <-a.Channel()
	assert.False(t, open)
}

func TestPubSubHubDropsWhenFull(t *testing.T) {
	hub := NewPubSubHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := hub.Subscribe(ctx, "a")
	defer sub.Close()
	for i := 0; i < subscriptionBuffer; i++ {
		require.Equal(t, 1, hub.Publish("a", "x"))
	}
	assert.Equal(t, 0, hub.Publish("a", "overflow"))
}

func TestRedisPublisher(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}

	publisher := NewPublisher(redisURL, time.Minute, zap.NewNop().Sugar())
	defer publisher.Close()
	require.False(t, publisher.IsInMemoryMode())

	ctx := context.Background()
	sub := publisher.Subscribe(ctx, UpdatesChannel(testPool))
	require.NotNil(t, sub)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, publisher.Emit(ctx, sampleRecord()))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"pearls":"24600"`)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for point update")
	}

	latest, err := publisher.Latest(ctx, testPool, testAccount)
	require.NoError(t, err)
	assert.Equal(t, sampleRecord().ID, latest.ID)
}

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func sampleEvent(suiteID uuid.UUID) domain.ProposalEvent {
	return domain.ProposalEvent{
		Type:           domain.EventProposalApproved,
		SuiteID:        suiteID,
		ProposalID:     uuid.New(),
		ProposalNumber: 2,
		Status:         domain.ProposalApproved,
		ActorID:        "user-1",
		OccurredAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_PublishAndSubscribe(t *testing.T) {
	client, _ := setupTestRedis(t)
	p := NewPublisher(client)
	ctx := context.Background()
	suiteID := uuid.New()

	sub, err := p.Subscribe(ctx, suiteID)
	require.NoError(t, err)
	defer sub.Close()

	event := sampleEvent(suiteID)
	require.NoError(t, p.Publish(ctx, event))
	// events of other suites stay on their own channel
	require.NoError(t, p.Publish(ctx, sampleEvent(uuid.New())))

	select {
	case got := <-sub.Events():
		assert.Equal(t, event, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-sub.Events():
		t.Fatalf("unexpected event %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublisher_PayloadShape(t *testing.T) {
	client, mr := setupTestRedis(t)
	p := NewPublisher(client)
	suiteID := uuid.New()

	raw := client.Subscribe(context.Background(), Channel(suiteID))
	defer raw.Close()
	_, err := raw.Receive(context.Background())
	require.NoError(t, err)

	event := sampleEvent(suiteID)
	require.NoError(t, p.Publish(context.Background(), event))

	msg, err := raw.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "testorder:events:"+suiteID.String(), msg.Channel)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, "proposal.approved", payload["type"])
	assert.Equal(t, suiteID.String(), payload["suiteId"])
	assert.Equal(t, float64(2), payload["proposalNumber"])
	assert.Equal(t, "approved", payload["status"])
	assert.Equal(t, "user-1", payload["actorId"])
	assert.Equal(t, "2026-03-01T12:00:00Z", payload["occurredAt"])
	assert.NotEmpty(t, mr.PubSubChannels(""))
}

func TestSubscription_CloseEndsStream(t *testing.T) {
	client, _ := setupTestRedis(t)
	p := NewPublisher(client)

	sub, err := p.Subscribe(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel was not closed")
	}
}

func TestPublisher_RedisUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	p := NewPublisher(client)
	mr.Close()

	err := p.Publish(context.Background(), sampleEvent(uuid.New()))
	assert.Error(t, err)
}

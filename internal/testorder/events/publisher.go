package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

const channelPrefix = "testorder:events:" // Pub/Sub channel per suite: testorder:events:{suite_id}

// Channel returns the Pub/Sub channel of a suite.
func Channel(suiteID uuid.UUID) string {
	return channelPrefix + suiteID.String()
}

// Publisher sends proposal lifecycle events over Redis Pub/Sub.
// Delivery is at most once; subscribers that are not connected miss events.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, event domain.ProposalEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(event.SuiteID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscription streams the events of one suite until Close.
type Subscription struct {
	pubsub *redis.PubSub
	events chan domain.ProposalEvent
	done   chan struct{}
	once   sync.Once
}

// Subscribe listens to a suite's channel. The subscription is confirmed
// before Subscribe returns, so no event published afterwards is missed.
func (p *Publisher) Subscribe(ctx context.Context, suiteID uuid.UUID) (*Subscription, error) {
	pubsub := p.client.Subscribe(ctx, Channel(suiteID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	s := &Subscription{
		pubsub: pubsub,
		events: make(chan domain.ProposalEvent),
		done:   make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

func (s *Subscription) forward() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var event domain.ProposalEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

// Events is closed after Close.
func (s *Subscription) Events() <-chan domain.ProposalEvent {
	return s.events
}

func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

// Package mirror republishes viewer events to Redis so external observers can
// follow turns without opening a viewer connection. It never feeds events back
// into a hub.
package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/ol-chat-relay/internal/events"
	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
)

const publishTimeout = 2 * time.Second

// Envelope is the message published for each event.
type Envelope struct {
	ID        string       `json:"id"`
	Type      events.Type  `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Data      events.Event `json:"data"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher mirrors events onto a Redis pub/sub channel.
type Publisher struct {
	client  publisher
	channel string
}

// NewPublisher returns a publisher for channel.
func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	return newPublisher(client, channel)
}

func newPublisher(client publisher, channel string) *Publisher {
	if channel == "" {
		channel = "chat-relay-events"
	}
	return &Publisher{client: client, channel: channel}
}

// Publish sends evt. Failures are logged; the hub never waits on a retry.
func (p *Publisher) Publish(evt events.Event) {
	payload, err := json.Marshal(Envelope{
		ID:        uuid.NewString(),
		Type:      evt.Type,
		Timestamp: time.Now().UTC(),
		Data:      evt,
	})
	if err != nil {
		logutil.Error("mirror: marshal event", err, nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		logutil.Warn("mirror: redis publish failed", map[string]interface{}{
			"channel": p.channel,
			"error":   err.Error(),
		})
	}
}

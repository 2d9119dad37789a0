package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/NoahRocket/X/internal/core/domain"
)

const subjectPostCreated = "posts.created"

// PostCreatedEvent is the wire contract on the posts.created subject.
// Every instance, including the publisher itself, receives it; receivers
// dedup by id.
type PostCreatedEvent struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Username  string    `json:"username"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(nc *nats.Conn) *NatsBroker {
	return &NatsBroker{nc: nc}
}

func (b *NatsBroker) PublishPostCreated(ctx context.Context, post domain.Post) error {
	event := PostCreatedEvent{
		ID:        post.ID,
		AuthorID:  post.UserID,
		Username:  post.Username,
		Question:  post.Question,
		Response:  post.Response,
		Tags:      post.Tags,
		CreatedAt: post.CreatedAt,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal post created: %w", err)
	}

	slog.Debug("publishing event", "subject", subjectPostCreated, "post_id", post.ID)
	return b.nc.Publish(subjectPostCreated, data)
}

// SubscribeInserts delivers every post created by any instance to handler.
// The returned func tears the subscription down; it drains in-flight
// messages first so none are dropped mid-dispatch.
func (b *NatsBroker) SubscribeInserts(handler func(post domain.Post)) (func(), error) {
	sub, err := b.nc.Subscribe(subjectPostCreated, func(msg *nats.Msg) {
		var event PostCreatedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("invalid post created event", "error", err)
			return
		}
		handler(event.toDomain())
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subjectPostCreated, err)
	}

	return func() {
		if err := sub.Drain(); err != nil {
			slog.Warn("drain subscription failed", "subject", subjectPostCreated, "error", err)
		}
	}, nil
}

func (e PostCreatedEvent) toDomain() domain.Post {
	return domain.Post{
		ID:        e.ID,
		UserID:    e.AuthorID,
		Username:  e.Username,
		Question:  e.Question,
		Response:  e.Response,
		Tags:      e.Tags,
		CreatedAt: e.CreatedAt,
	}
}

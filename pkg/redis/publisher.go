package redis

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

const DefaultChannelPrefix = "courier:rooms:"

// RoomPublisher mirrors fan-out events onto Redis pub/sub, one channel per
// room, for consumers outside this process.
type RoomPublisher struct {
	client *Client
	prefix string
}

func NewRoomPublisher(client *Client, prefix string) *RoomPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RoomPublisher{client: client, prefix: prefix}
}

func (p *RoomPublisher) Channel(room fanout.Room) string {
	return p.prefix + room.String()
}

func (p *RoomPublisher) Name() string {
	return "redis"
}

func (p *RoomPublisher) Deliver(ctx context.Context, event fanout.Event) error {
	ctx, span := tracing.StartSpan(ctx, "RoomPublisher.Deliver")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		tracing.RecordError(span, err)
		return errors.Wrap(err, "failed to marshal event")
	}
	if err := p.client.rdb.Publish(ctx, p.Channel(event.Room), data).Err(); err != nil {
		tracing.RecordError(span, err)
		return errors.Wrapf(err, "failed to publish %s to %s", event.Name, event.Room)
	}
	return nil
}

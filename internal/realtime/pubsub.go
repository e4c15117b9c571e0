package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultPubSubChannel はクライアントへ変更通知を配信するRedisチャンネル。
const DefaultPubSubChannel = "concurseiro:changes"

// Publisher は変更通知をRedisに発行する。
type Publisher struct {
	client  redis.Cmdable
	channel string
}

// NewPublisher はPublisherを生成する。channelが空の場合はDefaultPubSubChannelを使う。
func NewPublisher(client redis.Cmdable, channel string) *Publisher {
	if channel == "" {
		channel = DefaultPubSubChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish は変更通知を発行する。
func (p *Publisher) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Handler はListenerに登録するためのハンドラを返す。発行失敗はログのみ。
func (p *Publisher) Handler() Handler {
	return func(ctx context.Context, ev ChangeEvent) {
		if err := p.Publish(ctx, ev); err != nil {
			slog.Warn("failed to fan out change event",
				slog.String("table", ev.Table),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Subscriber はRedisから変更通知を購読する。
type Subscriber struct {
	client  *redis.Client
	channel string
}

// NewSubscriber はSubscriberを生成する。channelが空の場合はDefaultPubSubChannelを使う。
func NewSubscriber(client *redis.Client, channel string) *Subscriber {
	if channel == "" {
		channel = DefaultPubSubChannel
	}
	return &Subscriber{client: client, channel: channel}
}

// Run はコンテキストがキャンセルされるまで購読し、受信した通知をハンドラに渡す。
func (s *Subscriber) Run(ctx context.Context, handler Handler) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// 購読の確立を待つ
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := ParseChangeEvent([]byte(msg.Payload))
			if err != nil {
				slog.Warn("ignoring malformed change event", slog.String("error", err.Error()))
				continue
			}
			handler(ctx, ev)
		}
	}
}

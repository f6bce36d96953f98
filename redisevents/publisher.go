// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package redisevents publishes module events on Redis channel
package redisevents

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/emiago/sipua"
	"github.com/go-redis/redis/v8"
)

// DefaultChannel is channel events are published on
const DefaultChannel = "sipua:events"

// RedisPublisher is part of redis client used for publishing. *redis.Client implements it.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message is JSON payload of published event
type Message struct {
	Kind  string      `json:"kind"`
	Time  time.Time   `json:"time"`
	Text  string      `json:"text"`
	Event sipua.Event `json:"event"`
}

// Publisher is sipua.Observer publishing every event as JSON Message.
// Events are passed to next observer after publishing.
type Publisher struct {
	client  RedisPublisher
	channel string
	next    sipua.Observer
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

type PublisherOption func(p *Publisher)

// WithNext chains observer called after each publish
func WithNext(o sipua.Observer) PublisherOption {
	return func(p *Publisher) {
		p.next = o
	}
}

func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.log = l
	}
}

// WithTimeout bounds single publish. Default is 2s
func WithTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.timeout = d
	}
}

func NewPublisher(client RedisPublisher, channel string, opts ...PublisherOption) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	p := &Publisher{
		client:  client,
		channel: channel,
		log:     slog.Default(),
		timeout: 2 * time.Second,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("caller", "redisevents", "channel", channel)
	return p
}

// NewClient creates redis client from redis:// URL or plain host:port address
func NewClient(addr string) *redis.Client {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return redis.NewClient(&redis.Options{
			Addr: addr,
		})
	}
	return redis.NewClient(opt)
}

// OnEvent publishes event. Failures are logged and never stop event flow.
func (p *Publisher) OnEvent(ev sipua.Event) {
	if err := p.publish(ev); err != nil {
		p.log.Error("Failed to publish event", "kind", ev.Kind().String(), "error", err)
	}
	if p.next != nil {
		p.next.OnEvent(ev)
	}
}

func (p *Publisher) publish(ev sipua.Event) error {
	data, err := json.Marshal(Message{
		Kind:  ev.Kind().String(),
		Time:  p.now().UTC(),
		Text:  ev.String(),
		Event: ev,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, p.channel, string(data)).Err()
}

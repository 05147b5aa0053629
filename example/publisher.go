package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gurux/gxpressure-go"
	"github.com/redis/go-redis/v9"
)

// reading is the JSON document published for every polled pressure.
type reading struct {
	Instrument string    `json:"instrument"`
	Channel    int       `json:"channel"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Stable     bool      `json:"stable"`
	Time       time.Time `json:"time"`
}

// publisher sends readings to a Redis channel and keeps the latest
// readings in a capped list.
type publisher struct {
	client  *redis.Client
	channel string
	keep    int64
}

func newPublisher(ctx context.Context, addr, password, channel string) (*publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &publisher{client: client, channel: channel, keep: 1000}, nil
}

func (p *publisher) Publish(ctx context.Context, instrument string, r gxpressure.PressureReading, stable bool) error {
	doc := reading{
		Instrument: instrument,
		Channel:    int(r.Channel),
		Value:      r.Value,
		Stable:     stable,
		Time:       time.Now().UTC(),
	}
	if r.Unit != gxpressure.UnitNone {
		doc.Unit = r.Unit.String()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("pressure:%s:%d", instrument, r.Channel)
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, p.keep-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (p *publisher) Close() error {
	return p.client.Close()
}

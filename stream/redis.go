package stream

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/filter"
)

// RedisRelay relays publishes between host nodes over redis pub/sub
type RedisRelay struct {
	rdb    *redis.Client
	topic  string
	node   string
	hub    *Hub
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type envelope struct {
	Node    string            `json:"node"`
	Channel string            `json:"channel"`
	Event   string            `json:"event,omitempty"`
	Data    []byte            `json:"data"`
	Filter  filter.Attributes `json:"filter,omitempty"`
}

// NewRedisRelay subscribes to topic and attaches itself to the hub.
// Messages published by this node are skipped on the way back.
func NewRedisRelay(rdb *redis.Client, topic string, hub *Hub) (*RedisRelay, error) {
	if topic == "" {
		topic = "weave:stream"
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}

	relay := &RedisRelay{
		rdb:    rdb,
		topic:  topic,
		node:   uuid.NewString(),
		hub:    hub,
		pubsub: pubsub,
		cancel: cancel,
	}

	relay.wg.Add(1)
	go relay.listen(ctx)
	hub.SetRelay(relay)
	log.Info("[Stream] redis relay on %s (node %s)", topic, relay.node)
	return relay, nil
}

// Forward implements Relay
func (relay *RedisRelay) Forward(channel string, event string, data []byte, publishFilter filter.Attributes) error {
	payload, err := jsoniter.Marshal(envelope{
		Node:    relay.node,
		Channel: channel,
		Event:   event,
		Data:    data,
		Filter:  publishFilter,
	})
	if err != nil {
		return err
	}
	return relay.rdb.Publish(context.Background(), relay.topic, payload).Err()
}

// Close stops listening
func (relay *RedisRelay) Close() error {
	relay.cancel()
	err := relay.pubsub.Close()
	relay.wg.Wait()
	return err
}

func (relay *RedisRelay) listen(ctx context.Context) {
	defer relay.wg.Done()
	ch := relay.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := jsoniter.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Error("[Stream] relay decode: %s", err.Error())
				continue
			}
			if env.Node == relay.node {
				continue
			}
			relay.hub.PublishLocal(env.Channel, env.Event, env.Data, env.Filter)
		}
	}
}

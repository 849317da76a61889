package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	recordTTL = 24 * time.Hour

	keyPrefix     = "call:"
	eventsPrefix  = "call.events."
	candidateSufx = ":candidates"
)

// RedisChannel implements Channel on Redis: retained state in plain keys,
// delivery via pub/sub. The primary record lives at call:{callId}; candidates
// live in the hash call:{callId}:candidates keyed by sender id.
type RedisChannel struct {
	client *redis.Client
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

func recordKey(callID string) string    { return keyPrefix + callID }
func candidateKey(callID string) string { return keyPrefix + callID + candidateSufx }
func eventsChannel(callID string) string {
	return eventsPrefix + callID
}

func (c *RedisChannel) Subscribe(ctx context.Context, callID string, fn RecordFunc) (func(), error) {
	pubsub := c.client.Subscribe(ctx, eventsChannel(callID))

	// Wait for the subscription to be confirmed before replaying retained
	// state, so a write racing the replay is seen on at least one path.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	c.replayRetained(ctx, callID, fn)

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.deliver(callID, []byte(msg.Payload), fn)
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}
	return unsubscribe, nil
}

// replayRetained delivers the current primary record and any trickled
// candidates to a fresh subscriber. Duplicates with the pub/sub stream are
// expected; the channel contract is at-least-once.
func (c *RedisChannel) replayRetained(ctx context.Context, callID string, fn RecordFunc) {
	if data, err := c.client.Get(ctx, recordKey(callID)).Bytes(); err == nil {
		c.deliver(callID, data, fn)
	}
	candidates, err := c.client.HGetAll(ctx, candidateKey(callID)).Result()
	if err != nil {
		return
	}
	for _, data := range candidates {
		c.deliver(callID, []byte(data), fn)
	}
}

// deliver decodes one record and hands it to the subscriber. A malformed
// record is a signaling error: logged and dropped, never fatal.
func (c *RedisChannel) deliver(callID string, data []byte, fn RecordFunc) {
	var rec models.CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("call_id", callID).Msg("Dropping malformed call record")
		return
	}
	if err := rec.Validate(); err != nil {
		log.Warn().Err(err).Str("call_id", callID).Msg("Dropping invalid call record")
		return
	}
	fn(&rec)
}

func (c *RedisChannel) Write(ctx context.Context, callID string, rec *models.CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, recordKey(callID), data, recordTTL).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, eventsChannel(callID), data).Err()
}

func (c *RedisChannel) WriteCandidate(ctx context.Context, callID, senderID string, rec *models.CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.client.HSet(ctx, candidateKey(callID), senderID, data).Err(); err != nil {
		return err
	}
	c.client.Expire(ctx, candidateKey(callID), recordTTL)
	return c.client.Publish(ctx, eventsChannel(callID), data).Err()
}

func (c *RedisChannel) Remove(ctx context.Context, callID string) error {
	return c.client.Del(ctx, recordKey(callID), candidateKey(callID)).Err()
}

func (c *RedisChannel) RemoveAfter(callID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := c.Remove(context.Background(), callID); err != nil {
			log.Warn().Err(err).Str("call_id", callID).Msg("Failed to remove call record")
		}
	})
}

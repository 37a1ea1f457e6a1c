package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"

	"collabtext/crdt"
)

// ChannelPrefix namespaces document channels on a shared redis.
const ChannelPrefix = "collabtext:doc:"

// Redis relays updates between server instances over redis pub/sub, one channel per document.
type Redis struct {
	rdb    *redis.Client
	peer   string
	logger *slog.Logger
	// MaxElapsed bounds how long Subscribe retries before giving up; zero retries until ctx ends.
	MaxElapsed time.Duration
}

// NewRedis wraps rdb. peer identifies this instance on the relay; messages it published are not
// delivered back to its own subscriptions.
func NewRedis(rdb *redis.Client, peer string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, peer: peer, logger: logger}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// relayMessage tags an update with the instance that published it. The update's own Peer names
// the replica that authored it, which is usually a client rather than the publisher.
type relayMessage struct {
	From   string      `json:"from"`
	Update crdt.Update `json:"update"`
}

func channel(docID string) string {
	return ChannelPrefix + docID
}

// Publish sends u to every subscriber of docID.
func (r *Redis) Publish(ctx context.Context, docID string, u crdt.Update) error {
	raw, err := json.Marshal(relayMessage{From: r.peer, Update: u})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	if err := r.rdb.Publish(ctx, channel(docID), raw).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel(docID), err)
	}
	return nil
}

// Subscribe delivers updates for docID to fn until ctx is done. The subscription is
// re-established with exponential backoff whenever it breaks.
func (r *Redis) Subscribe(ctx context.Context, docID string, fn func(crdt.Update)) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.MaxElapsed
	op := func() error {
		err := r.receive(ctx, docID, fn)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("redis subscription lost", "doc", docID, "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("subscribe %s: %w", docID, err)
	}
	return ctx.Err()
}

var errSubscriptionClosed = errors.New("subscription channel closed")

func (r *Redis) receive(ctx context.Context, docID string, fn func(crdt.Update)) error {
	pubsub := r.rdb.Subscribe(ctx, channel(docID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("subscribed", "channel", channel(docID))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errSubscriptionClosed
			}
			u, ok, err := r.decode(msg.Payload)
			if err != nil {
				r.logger.Warn("dropping undecodable update", "channel", msg.Channel, "error", err)
				continue
			}
			if ok {
				fn(u)
			}
		}
	}
}

// decode unwraps a relay payload. ok is false for messages this instance published itself.
func (r *Redis) decode(payload string) (crdt.Update, bool, error) {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return crdt.Update{}, false, err
	}
	if m.From == r.peer {
		return crdt.Update{}, false, nil
	}
	return m.Update, true, nil
}

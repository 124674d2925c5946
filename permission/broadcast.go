package permission

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

const defaultChannel = "authkit:permission:invalidate"

// allUsers is the payload that maps to InvalidateAll.
const allUsers = "*"

// Broadcaster fans permission-cache invalidations out to sibling
// processes over Redis pub/sub. Each process keeps its own in-memory
// cache; without the broadcast a mutation made on one instance leaves
// the others serving stale grants for up to the cache TTL.
type Broadcaster struct {
	client  *redis.Client
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBroadcaster connects the resolver's cache to the invalidation
// channel. It subscribes immediately and replays every received payload
// into the local cache until Close is called.
func NewBroadcaster(client *redis.Client, resolver *Resolver, channel string) *Broadcaster {
	if channel == "" {
		channel = defaultChannel
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		client:  client,
		channel: channel,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	sub := client.Subscribe(ctx, channel)
	go func() {
		defer close(b.done)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == allUsers {
					resolver.cache.InvalidateAll()
				} else {
					resolver.cache.Invalidate(msg.Payload)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return b
}

// Publish announces that a user's cached permissions are stale. The local
// cache is not touched here; the Resolver has already dropped its own
// entry and this process receives its own publish like any other.
func (b *Broadcaster) Publish(ctx context.Context, userID string) {
	if err := b.client.Publish(ctx, b.channel, userID).Err(); err != nil {
		log.Printf("authkit: permission invalidation publish failed: %v", err)
	}
}

// PublishAll announces a full cache flush.
func (b *Broadcaster) PublishAll(ctx context.Context) {
	b.Publish(ctx, allUsers)
}

// Close stops the subscriber and waits for it to drain.
func (b *Broadcaster) Close() {
	b.cancel()
	<-b.done
}

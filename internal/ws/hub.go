package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultChannel = "chat-events"
	defaultBuffer  = 256
)

// Options tunes a Hub; zero values pick defaults
type Options struct {
	Channel    string // Redis pub/sub channel shared by all instances
	Buffer     int    // per-subscriber event buffer
	InstanceID string
}

// Subscription is one live listener on a scope. Events arrive on C until
// the subscription is closed or dropped; C is then closed.
type Subscription struct {
	ScopeID string
	C       <-chan *domain.Event

	ch      chan *domain.Event
	hub     *Hub
	closed  bool // guarded by hub.mu
	dropped bool // guarded by hub.mu
}

// Close unsubscribes; see Hub.Unsubscribe
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// Dropped reports whether the hub closed the subscription because its
// buffer overflowed. The consumer must resubscribe and backfill.
func (s *Subscription) Dropped() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Hub fans out committed store mutations to scope subscribers on this
// instance and, through Redis, to every other instance.
// Delivered events are shared between subscribers and must not be mutated.
type Hub struct {
	mu     sync.Mutex
	scopes map[string]map[*Subscription]struct{}

	buffer      int
	channel     string
	instanceID  string
	redisClient *redis.Client

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub. A nil redisClient keeps fan-out local.
func NewHub(redisClient *redis.Client, opts Options) *Hub {
	if opts.Channel == "" {
		opts.Channel = defaultChannel
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		scopes:      make(map[string]map[*Subscription]struct{}),
		buffer:      opts.Buffer,
		channel:     opts.Channel,
		instanceID:  opts.InstanceID,
		redisClient: redisClient,
		ready:       make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// InstanceID identifies this process on the shared channel
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Subscribe registers a listener for scopeID
func (h *Hub) Subscribe(scopeID string) *Subscription {
	ch := make(chan *domain.Event, h.buffer)
	sub := &Subscription{ScopeID: scopeID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	if h.ctx.Err() != nil {
		// stopped hub: hand back an already closed subscription
		sub.closed = true
		close(ch)
		h.mu.Unlock()
		return sub
	}
	if h.scopes[scopeID] == nil {
		h.scopes[scopeID] = make(map[*Subscription]struct{})
	}
	h.scopes[scopeID][sub] = struct{}{}
	h.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	return sub
}

// Unsubscribe removes sub and closes its channel. After it returns no
// further event is delivered to sub. Calling it twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if subs, ok := h.scopes[sub.ScopeID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.scopes, sub.ScopeID)
		}
	}
	metrics.ActiveSubscriptions.Dec()
}

// Subscribers returns the number of live subscriptions on scopeID
func (h *Hub) Subscribers(scopeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.scopes[scopeID])
}

// Publish delivers ev locally and forwards it to the other instances.
// Callers publish only after the mutation is committed.
func (h *Hub) Publish(ctx context.Context, scopeID string, ev *domain.Event) {
	h.deliver(scopeID, ev)

	if h.redisClient == nil {
		return
	}
	data, err := json.Marshal(&envelope{Origin: h.instanceID, ScopeID: scopeID, Event: ev})
	if err != nil {
		pkglogger.GetLogger().Error().Err(err).Str("scope_id", scopeID).Msg("encode broadcast")
		return
	}
	if err := h.redisClient.Publish(ctx, h.channel, data).Err(); err != nil {
		// local subscribers already have it; remote ones backfill on resync
		pkglogger.GetLogger().Warn().Err(err).Str("scope_id", scopeID).Msg("redis publish failed")
	}
}

// deliver never blocks: a subscriber whose buffer is full is dropped
func (h *Hub) deliver(scopeID string, ev *domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.scopes[scopeID] {
		select {
		case sub.ch <- ev:
			metrics.BroadcastDelivered.WithLabelValues(string(ev.Type)).Inc()
		default:
			sub.dropped = true
			h.removeLocked(sub)
			metrics.BroadcastDropped.Inc()
			pkglogger.GetLogger().Warn().Str("scope_id", scopeID).Msg("slow subscriber dropped")
		}
	}
}

type envelope struct {
	Origin  string        `json:"origin"`
	ScopeID string        `json:"scope_id"`
	Event   *domain.Event `json:"event"`
}

// Ready is closed once the hub listens on Redis (immediately without Redis)
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run starts the hub's main loop and blocks until Stop
func (h *Hub) Run() {
	if h.redisClient == nil {
		close(h.ready)
		<-h.ctx.Done()
		return
	}
	h.subscribeRedis()
}

// subscribeRedis listens for events from other instances
func (h *Hub) subscribeRedis() {
	pubsub := h.redisClient.Subscribe(h.ctx, h.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(h.ctx); err != nil {
		pkglogger.GetLogger().Error().Err(err).Str("channel", h.channel).Msg("redis subscribe failed")
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Event == nil {
				pkglogger.GetLogger().Warn().Str("channel", h.channel).Msg("malformed broadcast ignored")
				continue
			}
			if env.Origin == h.instanceID {
				continue
			}
			// Only local broadcast (don't re-publish to Redis)
			h.deliver(env.ScopeID, env.Event)
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the hub and closes every subscription
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.scopes {
		for sub := range subs {
			h.removeLocked(sub)
		}
	}
}

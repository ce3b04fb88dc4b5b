package changefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSettleDelay gives the store connection time to come up before
// streams are opened.
const DefaultSettleDelay = 5 * time.Second

// State of one entity subscription.
type State string

const (
	StatePending     State = "pending"
	StateActive      State = "active"
	StateDegraded    State = "degraded"
	StateUnsupported State = "unsupported"
	StateStopped     State = "stopped"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithEntities overrides the watched entity set.
func WithEntities(entities []Entity) Option {
	return func(b *Bridge) { b.entities = entities }
}

// WithSettleDelay overrides the delay before subscriptions are opened.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Bridge) { b.settle = d }
}

// WithClock is used by tests to pin event timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// Bridge subscribes to the Source and forwards changes to owner sockets.
type Bridge struct {
	source   Source
	emitter  Emitter
	logger   zerolog.Logger
	entities []Entity
	settle   time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	states      map[string]State
	unsupported bool
	warned      bool

	wg sync.WaitGroup
}

// NewBridge creates a bridge. Nothing is opened until Start.
func NewBridge(source Source, emitter Emitter, logger zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		source:   source,
		emitter:  emitter,
		logger:   logger.With().Str("component", "changefeed").Logger(),
		entities: DefaultEntities(),
		settle:   DefaultSettleDelay,
		now:      func() time.Time { return time.Now().UTC() },
		states:   make(map[string]State),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, e := range b.entities {
		b.states[e.Name] = StatePending
	}
	return b
}

// Start runs the bridge in the background and returns immediately.
func (b *Bridge) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)
	}()
}

// Wait blocks until every subscription goroutine has exited.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) run(ctx context.Context) {
	if b.settle > 0 {
		timer := time.NewTimer(b.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	for _, entity := range b.entities {
		if b.isUnsupported() {
			b.setState(entity.Name, StateUnsupported)
			continue
		}

		stream, err := b.source.Open(ctx, entity)
		if err != nil {
			b.openFailed(entity, err)
			continue
		}

		b.setState(entity.Name, StateActive)
		b.logger.Info().Str("entity", entity.Name).Msg("change stream opened")

		b.wg.Add(1)
		go func(entity Entity, stream Stream) {
			defer b.wg.Done()
			b.consume(ctx, entity, stream)
		}(entity, stream)
	}
}

func (b *Bridge) openFailed(entity Entity, err error) {
	if errors.Is(err, ErrUnsupported) {
		b.mu.Lock()
		b.unsupported = true
		b.states[entity.Name] = StateUnsupported
		first := !b.warned
		b.warned = true
		b.mu.Unlock()
		if first {
			b.logger.Warn().Err(err).Msg("change streams unavailable, real-time entity updates disabled")
		}
		return
	}
	b.setState(entity.Name, StateDegraded)
	b.logger.Warn().Err(err).Str("entity", entity.Name).Msg("failed to open change stream")
}

func (b *Bridge) consume(ctx context.Context, entity Entity, stream Stream) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stream.Close(closeCtx); err != nil {
			b.logger.Debug().Err(err).Str("entity", entity.Name).Msg("close change stream")
		}
	}()

	for {
		change, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.setState(entity.Name, StateStopped)
				return
			}
			b.setState(entity.Name, StateDegraded)
			b.logger.Error().Err(err).Str("entity", entity.Name).Msg("change stream failed")
			return
		}
		b.dispatch(entity, change)
	}
}

// dispatch emits one change to every connection of every owner.
func (b *Bridge) dispatch(entity Entity, change Change) int {
	payload := Payload{
		Type:      change.Op,
		Data:      change.Document,
		Timestamp: b.now(),
	}
	if payload.Data == nil {
		payload.Data = map[string]interface{}{"id": change.ID}
	}

	sent := 0
	seen := make(map[string]struct{}, len(change.Owners))
	for _, owner := range change.Owners {
		if owner == "" {
			continue
		}
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		for _, connID := range b.emitter.ConnectionsFor(owner) {
			if b.emitter.EmitToConnection(connID, entity.Event, payload) {
				sent++
			}
		}
	}
	return sent
}

func (b *Bridge) setState(name string, s State) {
	b.mu.Lock()
	b.states[name] = s
	b.mu.Unlock()
}

func (b *Bridge) isUnsupported() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unsupported
}

// Available reports whether at least one subscription is streaming.
func (b *Bridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.states {
		if s == StateActive {
			return true
		}
	}
	return false
}

// Status returns a copy of the per-entity subscription states.
func (b *Bridge) Status() map[string]State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]State, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out
}

package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/webtoonlab/panelgen/internal/domain"
)

// SnapshotListener receives every published task snapshot. Listeners are
// for out-of-process sinks (archival, external notification); in-process
// consumers should use subscriptions instead.
type SnapshotListener interface {
	// OnSnapshot processes one snapshot. Errors are logged and never fail
	// the originating state update.
	OnSnapshot(ctx context.Context, snapshot *domain.GenerationTask) error
}

// Broadcaster fans task snapshots out to per-task subscribers and to
// registered listeners. Delivery to a subscriber is coalescing: a slow
// consumer observes only the latest snapshot, never an older one than it
// has already seen. A subscription's channel closes after the terminal
// snapshot has been buffered.
type Broadcaster struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]map[*Subscription]struct{}
	listeners []SnapshotListener
	logger    *slog.Logger
}

// Subscription is a live interest registration for one task's updates.
type Subscription struct {
	taskID uuid.UUID
	ch     chan *domain.GenerationTask
	b      *Broadcaster
	closed bool // guarded by b.mu
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
		logger: logger.With("component", "progress_broadcaster"),
	}
}

// RegisterListener adds a listener that will receive every snapshot from
// now on. Not safe to call concurrently with Publish; register listeners
// during wiring, before the pipeline starts.
func (b *Broadcaster) RegisterListener(l SnapshotListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish delivers a snapshot to all subscribers of the task and to every
// registered listener. The state store calls this inside the task's
// critical section, so snapshots for one task arrive strictly in update
// order.
func (b *Broadcaster) Publish(ctx context.Context, snapshot *domain.GenerationTask) {
	b.mu.Lock()

	for sub := range b.subs[snapshot.ID] {
		sub.push(snapshot)
		if snapshot.IsTerminal() {
			sub.closed = true
			close(sub.ch)
		}
	}
	if snapshot.IsTerminal() {
		delete(b.subs, snapshot.ID)
	}

	listeners := make([]SnapshotListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		if err := l.OnSnapshot(ctx, snapshot); err != nil {
			b.logger.ErrorContext(ctx, "snapshot listener failed",
				"task_id", snapshot.ID,
				"status", snapshot.Status,
				"error", err)
		}
	}
}

// subscribe registers a subscription seeded with the given snapshot. The
// caller (the state store) invokes this inside the task's critical section.
// If the seed is already terminal the subscription is returned pre-closed
// and never registered: the consumer receives exactly that one snapshot.
func (b *Broadcaster) subscribe(seed *domain.GenerationTask) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		taskID: seed.ID,
		ch:     make(chan *domain.GenerationTask, 1),
		b:      b,
	}
	sub.ch <- seed

	if seed.IsTerminal() {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	if b.subs[seed.ID] == nil {
		b.subs[seed.ID] = make(map[*Subscription]struct{})
	}
	b.subs[seed.ID][sub] = struct{}{}
	return sub
}

// Updates returns the snapshot channel. It closes once a terminal snapshot
// has been delivered, or when the subscription is closed.
func (s *Subscription) Updates() <-chan *domain.GenerationTask {
	return s.ch
}

// Close unsubscribes. Safe to call multiple times and after the stream has
// already terminated.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)

	if set, ok := s.b.subs[s.taskID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.b.subs, s.taskID)
		}
	}
}

// push performs a coalescing send: if the subscriber has not consumed the
// previous snapshot it is replaced by this newer one. All pushes for a task
// are serialized under the broadcaster lock, so the loop terminates.
func (s *Subscription) push(snapshot *domain.GenerationTask) {
	for {
		select {
		case s.ch <- snapshot:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/webtoonlab/panelgen/internal/domain"
)

// ErrTaskNotFound is returned when an operation references an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Mutation is an atomic transform applied to a task inside the store's
// per-task critical section. It must not retain references to the task or
// its slices past its return.
type Mutation func(t *domain.GenerationTask)

// StateStore holds the authoritative mutable state of generation tasks.
// Updates to a single task are strictly serialized; updates across tasks
// are independent.
type StateStore interface {
	// Create registers a new task. The task id must be unique.
	Create(ctx context.Context, t *domain.GenerationTask) error

	// Get returns an immutable snapshot of the task, or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error)

	// Update applies the mutation atomically and returns the resulting
	// snapshot, or ErrTaskNotFound. Every successful update synchronously
	// publishes the new snapshot to the progress broadcaster.
	Update(ctx context.Context, id uuid.UUID, fn Mutation) (*domain.GenerationTask, error)

	// Watch subscribes to snapshots of the task, seeded with its current
	// state. Returns ErrTaskNotFound for unknown ids.
	Watch(ctx context.Context, id uuid.UUID) (*Subscription, error)
}

// InMemoryStateStore is the in-process StateStore implementation. Each task
// has its own lock, so concurrent panel completions for the same task
// serialize while different tasks never contend.
type InMemoryStateStore struct {
	mu          sync.RWMutex
	entries     map[uuid.UUID]*taskEntry
	broadcaster *Broadcaster
	logger      *slog.Logger
}

type taskEntry struct {
	mu   sync.Mutex
	task *domain.GenerationTask
}

// NewInMemoryStateStore creates a state store that publishes every update
// through the given broadcaster.
func NewInMemoryStateStore(broadcaster *Broadcaster, logger *slog.Logger) *InMemoryStateStore {
	return &InMemoryStateStore{
		entries:     make(map[uuid.UUID]*taskEntry),
		broadcaster: broadcaster,
		logger:      logger.With("component", "task_state_store"),
	}
}

// Create registers a new task. The stored copy is private to the store;
// callers keep no aliased reference.
func (s *InMemoryStateStore) Create(ctx context.Context, t *domain.GenerationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[t.ID]; ok {
		return errors.New("task already exists")
	}
	s.entries[t.ID] = &taskEntry{task: t.Clone()}

	s.logger.DebugContext(ctx, "task created", "task_id", t.ID, "status", t.Status)
	return nil
}

// Get returns an immutable snapshot of the task.
func (s *InMemoryStateStore) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.task.Clone(), nil
}

// Update applies fn under the task's exclusive section and publishes the
// resulting snapshot. Publishing happens inside the critical section so
// subscribers always observe snapshots in update order.
func (s *InMemoryStateStore) Update(
	ctx context.Context,
	id uuid.UUID,
	fn Mutation,
) (*domain.GenerationTask, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	fn(entry.task)
	snapshot := entry.task.Clone()

	if s.broadcaster != nil {
		s.broadcaster.Publish(ctx, snapshot)
	}
	return snapshot, nil
}

// Watch registers a subscription seeded with the task's current snapshot.
// Registration happens inside the task's critical section, so no update can
// slip between the seed snapshot and the subscription going live.
func (s *InMemoryStateStore) Watch(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return s.broadcaster.subscribe(entry.task.Clone()), nil
}

// Remove evicts a task from the store. Retention policy for terminal tasks
// belongs to the caller; the store never evicts on its own.
func (s *InMemoryStateStore) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.entries, id)
	s.logger.DebugContext(ctx, "task removed", "task_id", id)
	return nil
}

func (s *InMemoryStateStore) entry(id uuid.UUID) (*taskEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return entry, nil
}

var _ StateStore = (*InMemoryStateStore)(nil)

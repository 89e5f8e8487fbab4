package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtoonlab/panelgen/internal/domain"
)

func newSnapshot(t *testing.T, status domain.TaskStatus, progress float64) *domain.GenerationTask {
	t.Helper()
	task, err := domain.NewGenerationTask("prompt", "", 2)
	require.NoError(t, err)
	task.Status = status
	task.Progress = progress
	return task
}

func TestBroadcasterSubscribeSeed(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger())
	seed := newSnapshot(t, domain.TaskStatusRunning, 10)

	sub := b.subscribe(seed)
	defer sub.Close()

	got := <-sub.Updates()
	assert.Equal(t, seed, got)
}

func TestBroadcasterCoalescesForSlowConsumers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger())
	seed := newSnapshot(t, domain.TaskStatusRunning, 0)
	sub := b.subscribe(seed)
	defer sub.Close()

	// Without the consumer reading, each publish replaces the buffered
	// snapshot with the newer one.
	for _, progress := range []float64{10, 25, 60, 90} {
		next := seed.Clone()
		next.Progress = progress
		b.Publish(context.Background(), next)
	}

	got := <-sub.Updates()
	assert.Equal(t, 90.0, got.Progress, "slow consumer sees only the latest snapshot")
}

func TestBroadcasterTerminalSnapshotClosesStream(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger())
	seed := newSnapshot(t, domain.TaskStatusRunning, 50)
	sub := b.subscribe(seed)

	<-sub.Updates() // seed

	terminal := seed.Clone()
	terminal.Complete([]domain.Panel{{Index: 0, ImageRef: "a.png"}})
	b.Publish(context.Background(), terminal)

	got, open := <-sub.Updates()
	require.True(t, open)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)

	_, open = <-sub.Updates()
	assert.False(t, open, "channel closes after the terminal snapshot")
}

func TestBroadcasterLateSubscriberToTerminalTask(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger())
	terminal := newSnapshot(t, domain.TaskStatusRunning, 50)
	terminal.Complete(nil)

	sub := b.subscribe(terminal)

	got, open := <-sub.Updates()
	require.True(t, open)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)

	_, open = <-sub.Updates()
	assert.False(t, open, "exactly one snapshot, then the stream ends")

	// Closing an already-terminated subscription is a no-op.
	sub.Close()
}

func TestBroadcasterPublishOnlyReachesTaskSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger())
	taskA := newSnapshot(t, domain.TaskStatusRunning, 0)
	taskB := newSnapshot(t, domain.TaskStatusRunning, 0)

	subA := b.subscribe(taskA)
	defer subA.Close()
	<-subA.Updates()

	update := taskB.Clone()
	update.Progress = 42
	b.Publish(context.Background(), update)

	select {
	case got := <-subA.Updates():
		t.Fatalf("subscriber of task %s received snapshot of task %s", taskA.ID, got.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger())
	seed := newSnapshot(t, domain.TaskStatusRunning, 0)
	sub := b.subscribe(seed)

	<-sub.Updates()
	sub.Close()
	sub.Close() // idempotent

	_, open := <-sub.Updates()
	assert.False(t, open)

	// Publishing after close must not panic on the closed channel.
	update := seed.Clone()
	update.Progress = 10
	b.Publish(context.Background(), update)
}

type recordingListener struct {
	snapshots []*domain.GenerationTask
	err       error
}

func (l *recordingListener) OnSnapshot(ctx context.Context, snapshot *domain.GenerationTask) error {
	l.snapshots = append(l.snapshots, snapshot)
	return l.err
}

func TestBroadcasterListeners(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger())
	failing := &recordingListener{err: errors.New("sink unavailable")}
	healthy := &recordingListener{}
	b.RegisterListener(failing)
	b.RegisterListener(healthy)

	snapshot := newSnapshot(t, domain.TaskStatusRunning, 30)
	b.Publish(context.Background(), snapshot)

	// A failing listener never blocks the others.
	require.Len(t, failing.snapshots, 1)
	require.Len(t, healthy.snapshots, 1)
	assert.Equal(t, snapshot.ID, healthy.snapshots[0].ID)
}

package tasks

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSpawnAndCancel(t *testing.T) {
	r := New(nil)
	started := make(chan struct{})
	exited := make(chan bool, 1)

	err := r.Spawn(context.Background(), "T", func(ctx context.Context) error {
		close(started)
		return blockUntilDone(ctx)
	}, func(id string, err error, canceled bool) {
		if id != "T" {
			t.Errorf("Expected id T, got %s", id)
		}
		exited <- canceled
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	<-started

	if !r.Running("T") || r.Len() != 1 {
		t.Fatal("Expected T to be running")
	}
	if !r.Cancel("T") {
		t.Error("Cancel should report a running task")
	}
	// Cancel waits, so the task is gone as soon as it returns.
	if r.Running("T") {
		t.Error("Task still registered after Cancel")
	}
	select {
	case canceled := <-exited:
		if !canceled {
			t.Error("Expected exit hook to see a cancellation")
		}
	default:
		t.Error("Exit hook did not run before Cancel returned")
	}

	if r.Cancel("T") {
		t.Error("Cancel of a finished task should report false")
	}
}

func TestSpawnDuplicateAndEmpty(t *testing.T) {
	r := New(nil)
	defer r.CancelAll()

	if err := r.Spawn(context.Background(), "", blockUntilDone, nil); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Expected ErrEmptyID, got %v", err)
	}
	if err := r.Spawn(context.Background(), "T", blockUntilDone, nil); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := r.Spawn(context.Background(), "T", blockUntilDone, nil); !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists, got %v", err)
	}
}

func TestTaskRemovedWhenFinished(t *testing.T) {
	r := New(nil)
	exits := make(chan error, 1)
	boom := errors.New("boom")

	if err := r.Spawn(context.Background(), "F", func(ctx context.Context) error {
		return boom
	}, func(id string, err error, canceled bool) {
		if canceled {
			t.Error("Failure reported as cancellation")
		}
		exits <- err
	}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	select {
	case err := <-exits:
		if !errors.Is(err, boom) {
			t.Errorf("Expected boom, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Task did not finish")
	}

	r.CancelAll()
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %v", r.IDs())
	}
	// The id is free again.
	if err := r.Spawn(context.Background(), "F", func(ctx context.Context) error { return nil }, nil); err != nil {
		t.Errorf("Respawn failed: %v", err)
	}
	r.CancelAll()
}

func TestParentContextEndsTasks(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Spawn(ctx, "T", blockUntilDone, nil); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for r.Running("T") {
		select {
		case <-deadline:
			t.Fatal("Task outlived its parent context")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCancelAllAndIDs(t *testing.T) {
	r := New(nil)
	var mu sync.Mutex
	var exited []string

	for _, id := range []string{"c", "a", "b"} {
		if err := r.Spawn(context.Background(), id, blockUntilDone, func(id string, err error, canceled bool) {
			mu.Lock()
			exited = append(exited, id)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Spawn(%s) failed: %v", id, err)
		}
	}
	if ids := r.IDs(); !slices.Equal(ids, []string{"a", "b", "c"}) {
		t.Errorf("Expected sorted ids, got %v", ids)
	}

	r.CancelAll()
	if r.Len() != 0 {
		t.Errorf("Expected no tasks after CancelAll, got %v", r.IDs())
	}
	mu.Lock()
	defer mu.Unlock()
	slices.Sort(exited)
	if !slices.Equal(exited, []string{"a", "b", "c"}) {
		t.Errorf("Expected every exit hook to run, got %v", exited)
	}
}

func TestConcurrentSpawnAndCancel(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('A' + i%26))
			if err := r.Spawn(context.Background(), id, blockUntilDone, nil); err != nil && !errors.Is(err, ErrExists) {
				t.Errorf("Spawn failed: %v", err)
			}
			r.Cancel(id)
		}()
	}
	wg.Wait()
	r.CancelAll()
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %v", r.IDs())
	}
}

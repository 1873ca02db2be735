package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan archive.FetchTask, 1)
	errCh := make(chan error, 1)

	go func() {
		task, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- task
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	task := archive.FetchTask{URL: "https://example.com/a.png", Dest: "/tmp/a.png"}
	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != task {
			t.Fatalf("expected %+v, got %+v", task, got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return task")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), archive.FetchTask{URL: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, archive.FetchTask{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueDrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	for _, u := range []string{"a", "b"} {
		if err := q.Enqueue(context.Background(), archive.FetchTask{URL: u}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", u, err)
		}
	}
	q.Close()

	for _, want := range []string{"a", "b"} {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got.URL != want {
			t.Fatalf("expected %s, got %s", want, got.URL)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := q.Enqueue(context.Background(), archive.FetchTask{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue after close, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

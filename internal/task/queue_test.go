package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueueClosedRejectsPublish(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), "a"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued task")
	}
	_ = q.Close()
	_ = q.Close()
	if err := q.Publish(context.Background(), "b"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	err := q.Consume(context.Background(), 2, func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected consume to stop on close, got %v", err)
	}
}

func TestMemoryQueuePublishHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Publish(context.Background(), "a")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

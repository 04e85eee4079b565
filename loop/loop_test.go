package loop

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunPending_MicrotasksBeforeNextTask(t *testing.T) {
	l := New()
	var order []string

	l.Post(func() {
		order = append(order, "task1")
		l.QueueMicrotask(func() {
			order = append(order, "micro1")
			l.QueueMicrotask(func() { order = append(order, "micro2") })
		})
	})
	l.Post(func() { order = append(order, "task2") })

	if n := l.RunPending(); n != 2 {
		t.Fatalf("RunPending: ran %d tasks, want 2", n)
	}

	got := strings.Join(order, ",")
	if got != "task1,micro1,micro2,task2" {
		t.Errorf("order: got %s", got)
	}
}

func TestRunPending_TasksPostedByTasks(t *testing.T) {
	l := New()
	count := 0
	l.Post(func() {
		count++
		l.Post(func() { count++ })
	})
	l.RunPending()
	if count != 2 {
		t.Errorf("count: got %d, want 2", count)
	}
	if l.Pending() != 0 {
		t.Errorf("Pending: got %d, want 0", l.Pending())
	}
}

func TestRunPending_PanicIsolated(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.RunPending()
	if !ran {
		t.Error("task after panicking task did not run")
	}
}

func TestDo(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	v := 0
	if err := l.Do(ctx, func() { v = 42 }); err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Errorf("v: got %d, want 42", v)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	l := New() // never driven
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do: got %v, want deadline exceeded", err)
	}
}

func TestAfterFunc(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fired := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	go l.Run(ctx)

	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("timer task never ran")
	}
}

func TestAfterFunc_Stop(t *testing.T) {
	l := New()
	stop := l.AfterFunc(time.Hour, func() {})
	if !stop() {
		t.Error("stop: want true for pending timer")
	}
}

func TestClose(t *testing.T) {
	l := New()
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	l.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after Close: got %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	l.Post(func() { t.Error("task posted after Close ran") })
	l.RunPending()
}

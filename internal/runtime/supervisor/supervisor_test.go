package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStopWaitsForGoroutines(t *testing.T) {
	s := New(context.Background())
	started := make(chan struct{})
	s.Go("worker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started
	if !s.Stop(2 * time.Second) {
		t.Fatal("Stop timed out")
	}
	if s.Active() != 0 {
		t.Fatalf("Active = %d after Stop", s.Active())
	}
}

func TestCancelOnFirstError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after goroutine error")
	}
	if !errors.Is(s.Err(), boom) {
		t.Fatalf("Err = %v", s.Err())
	}
}

func TestPanicRecordedAsError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("panicking", func(ctx context.Context) error { panic("kaboom") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after panic")
	}
	if s.Err() == nil {
		t.Fatal("expected recorded panic error")
	}
}

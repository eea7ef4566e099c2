package system

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fl2m/platform/pkg/logger"
)

type recordingService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerOrder(t *testing.T) {
	var events []string
	m := NewManager(logger.NewNop())
	m.Register(&recordingService{name: "a", events: &events})
	m.Register(&recordingService{name: "b", events: &events})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager(logger.NewNop())
	m.Register(&recordingService{name: "a", events: &events})
	m.Register(&recordingService{name: "b", events: &events, startErr: errors.New("boom")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if len(events) != 2 || events[1] != "stop:a" {
		t.Fatalf("expected a to be stopped, got %v", events)
	}
}

func TestCronServiceRejectsBadSchedule(t *testing.T) {
	c := NewCronService(time.UTC, logger.NewNop())
	err := c.Add(Job{Name: "x", Schedule: "not a schedule", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestCronServiceRunNowSkipsOverlap(t *testing.T) {
	c := NewCronService(time.UTC, logger.NewNop())
	release := make(chan struct{})
	var runs int32
	job := Job{Name: "slow", Schedule: "@every 1h", Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		<-release
		return nil
	}}

	done := make(chan struct{})
	go func() {
		c.RunNow(job)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&runs) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.RunNow(job) // overlaps, skipped
	close(release)
	<-done

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestCronServiceStartStop(t *testing.T) {
	c := NewCronService(time.UTC, logger.NewNop())
	if err := c.Add(Job{Name: "tick", Schedule: "@every 1h", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestScheduler_Schedule(t *testing.T) {
	s := New(2, nil)
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	err := s.Schedule("test1", time.Now().Add(50*time.Millisecond), func(ctx context.Context) error {
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Task was not executed")
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := New(2, nil)
	s.Start()
	defer s.Stop()

	executed := false
	var mu sync.Mutex

	err := s.Schedule("test1", time.Now().Add(100*time.Millisecond), func(ctx context.Context) error {
		mu.Lock()
		executed = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if !s.Cancel("test1") {
		t.Error("Cancel returned false")
	}
	if s.Cancel("test1") {
		t.Error("Second cancel returned true")
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if executed {
		t.Error("Task was executed despite being cancelled")
	}
	mu.Unlock()
}

func TestScheduler_MultipleTasksOrdering(t *testing.T) {
	s := New(1, nil)
	s.Start()
	defer s.Stop()

	var results []int
	var mu sync.Mutex
	record := func(n int) Job {
		return func(ctx context.Context) error {
			mu.Lock()
			results = append(results, n)
			mu.Unlock()
			return nil
		}
	}

	now := time.Now()
	s.Schedule("task3", now.Add(150*time.Millisecond), record(3))
	s.Schedule("task1", now.Add(50*time.Millisecond), record(1))
	s.Schedule("task2", now.Add(100*time.Millisecond), record(2))

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0] != 1 || results[1] != 2 || results[2] != 3 {
		t.Errorf("Tasks executed in wrong order: %v", results)
	}
}

func TestScheduler_RescheduleExisting(t *testing.T) {
	s := New(2, nil)
	s.Start()
	defer s.Stop()

	count := 0
	var mu sync.Mutex

	s.Schedule("test1", time.Now().Add(100*time.Millisecond), func(ctx context.Context) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	// Same id replaces the first task
	s.Schedule("test1", time.Now().Add(50*time.Millisecond), func(ctx context.Context) error {
		mu.Lock()
		count += 10
		mu.Unlock()
		return nil
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if count != 10 {
		t.Errorf("Expected count=10 (only second task), got %d", count)
	}
	mu.Unlock()
}

func TestScheduler_Every(t *testing.T) {
	s := New(1, nil)
	s.Start()
	defer s.Stop()

	var mu sync.Mutex
	runs := 0
	err := s.Every("refresh", 20*time.Millisecond, func(ctx context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Every failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if runs < 3 {
		t.Errorf("Expected at least 3 runs, got %d", runs)
	}
	mu.Unlock()

	if stats := s.Stats(); stats.ScheduledTasks != 1 {
		t.Errorf("Expected periodic task to stay scheduled, got %d", stats.ScheduledTasks)
	}

	if !s.Cancel("refresh") {
		t.Error("Cancel returned false for periodic task")
	}
}

func TestScheduler_EveryRejectsNonPositiveInterval(t *testing.T) {
	s := New(1, nil)
	if err := s.Every("bad", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("Expected error for zero interval")
	}
}

func TestScheduler_FailedJobsCounted(t *testing.T) {
	s := New(1, nil)
	s.Start()
	defer s.Stop()

	s.Schedule("fail", time.Now(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Failed == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected 1 failed job, got %+v", s.Stats())
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	s := New(1, nil)
	s.Start()

	started := make(chan struct{})
	s.Schedule("long", time.Now(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	s.Stop()

	if err := s.Schedule("late", time.Now(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestScheduler_Stats(t *testing.T) {
	s := New(5, nil)
	s.Start()
	defer s.Stop()

	noop := func(ctx context.Context) error { return nil }
	s.Schedule("task1", time.Now().Add(1*time.Hour), noop)
	s.Schedule("task2", time.Now().Add(2*time.Hour), noop)
	s.Schedule("task3", time.Now().Add(3*time.Hour), noop)

	stats := s.Stats()
	if stats.ScheduledTasks != 3 {
		t.Errorf("Expected 3 scheduled tasks, got %d", stats.ScheduledTasks)
	}
	if stats.Workers != 5 {
		t.Errorf("Expected 5 workers, got %d", stats.Workers)
	}
}

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrUnknownTask = errors.New("unknown task")

// Task is a unit of periodic work. A failed Execute is reported by the
// scheduler and does not stop later runs.
type Task interface {
	Name() string
	Message() string
	Execute(ctx context.Context) error
}

type Alerter interface {
	SendTaskFailureAlert(taskName, message string, err error) error
}

type entry struct {
	task     Task
	interval time.Duration
	mu       sync.Mutex
}

type Scheduler struct {
	mu      sync.Mutex
	entries []*entry
	logger  *slog.Logger
	alerter Alerter
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(logger *slog.Logger, alerter Alerter) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		logger:  logger,
		alerter: alerter,
	}
}

func (s *Scheduler) Schedule(t Task, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval for %s: %v", t.Name(), interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.find(t.Name()) != nil {
		return fmt.Errorf("task %s already scheduled", t.Name())
	}

	s.entries = append(s.entries, &entry{task: t, interval: interval})
	return nil
}

func (s *Scheduler) find(name string) *entry {
	for _, e := range s.entries {
		if e.task.Name() == name {
			return e
		}
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	for _, e := range s.entries {
		s.logger.Info("Scheduling task", "task", e.task.Name(), "interval", e.interval)
		s.wg.Add(1)
		go s.loop(ctx, e, s.stopCh)
	}

	return nil
}

// Stop waits for in-flight runs to finish. The scheduler can be started
// again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// RunNow executes the named task once, outside of its schedule, and returns
// its error after it has been reported.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e := s.find(name)
	s.mu.Unlock()

	if e == nil {
		return fmt.Errorf("%s: %w", name, ErrUnknownTask)
	}
	return s.run(ctx, e)
}

func (s *Scheduler) loop(ctx context.Context, e *entry, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, e)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := e.task.Name()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
		if err != nil {
			s.logger.Error("Task failed", "task", name, "message", e.task.Message(), "error", err)
			if s.alerter != nil {
				if alertErr := s.alerter.SendTaskFailureAlert(name, e.task.Message(), err); alertErr != nil {
					s.logger.Warn("Failed to send task failure alert", "task", name, "error", alertErr)
				}
			}
			return
		}
		s.logger.Debug("Task completed", "task", name, "duration", time.Since(start))
	}()

	s.logger.Debug("Running task", "task", name, "message", e.task.Message())
	return e.task.Execute(ctx)
}

package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownTask is returned by RunNow for a name that was never registered.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Scheduler manages periodic and delayed tasks by name on top of gocron.
// Registering a name twice replaces the earlier task.
type Scheduler struct {
	mu       sync.Mutex
	cron     gocron.Scheduler
	jobs     map[string]*jobEntry
	logger   *zap.Logger
	stopOnce sync.Once
}

type jobEntry struct {
	id       uuid.UUID
	job      gocron.Job
	interval time.Duration // zero for one-shot tasks
}

// TaskStatus describes a registered task for the admin API.
type TaskStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	NextRun  time.Time     `json:"next_run"`
	LastRun  time.Time     `json:"last_run"`
}

// New creates and starts a Scheduler.
func New(logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	cron.Start()
	return &Scheduler{
		cron:   cron,
		jobs:   make(map[string]*jobEntry),
		logger: logger,
	}, nil
}

// AddTicker registers a task to run on a fixed interval, first firing one
// interval from now.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) error {
	return s.addTicker(name, interval, fn)
}

// AddTickerAfter registers a task that first fires after delay and then on a
// fixed interval.
func (s *Scheduler) AddTickerAfter(name string, delay, interval time.Duration, fn TaskFn) error {
	if delay <= 0 {
		return s.addTicker(name, interval, fn, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	return s.addTicker(name, interval, fn,
		gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(delay))))
}

func (s *Scheduler) addTicker(name string, interval time.Duration, fn TaskFn, opts ...gocron.JobOption) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %q: interval must be positive", name)
	}
	opts = append(opts,
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)

	job, err := s.cron.NewJob(gocron.DurationJob(interval), gocron.NewTask(s.wrap(name, fn)), opts...)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: %w", name, err)
	}
	s.jobs[name] = &jobEntry{id: job.ID(), job: job, interval: interval}
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
	return nil
}

// AddDelay runs fn once after the given delay.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)

	var id uuid.UUID
	task := s.wrap(name, fn)
	job, err := s.cron.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(delay))),
		gocron.NewTask(func() {
			task()
			s.mu.Lock()
			if e, ok := s.jobs[name]; ok && e.id == id {
				delete(s.jobs, name)
			}
			s.mu.Unlock()
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: %w", name, err)
	}
	id = job.ID()
	s.jobs[name] = &jobEntry{id: id, job: job}
	return nil
}

// RunNow triggers a registered task immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return e.job.RunNow()
}

// Remove stops and removes a ticker or delay task by name. It reports
// whether the task was registered.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) bool {
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	delete(s.jobs, name)
	if err := s.cron.RemoveJob(e.id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		s.logger.Warn("scheduler remove failed", zap.String("task", name), zap.Error(err))
	}
	return true
}

// Stop stops all tasks and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if err := s.cron.Shutdown(); err != nil {
			s.logger.Warn("scheduler shutdown", zap.Error(err))
		}
	})
}

// ListTickers returns the names of all registered ticker tasks.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name, e := range s.jobs {
		if e.interval > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Status reports next and last run times of every registered task, by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		st := TaskStatus{Name: name, Interval: e.interval}
		if t, err := e.job.NextRun(); err == nil {
			st.NextRun = t
		}
		if t, err := e.job.LastRun(); err == nil {
			st.LastRun = t
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) wrap(name string, fn TaskFn) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler task panicked",
					zap.String("task", name),
					zap.Any("recover", r))
			}
		}()
		fn()
	}
}

package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fl2m/platform/internal/app/metrics"
	"github.com/fl2m/platform/pkg/logger"
)

// JobFunc is a scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Job is a named schedule entry.
type Job struct {
	Name     string
	Schedule string
	Run      JobFunc
	// Timeout bounds a single run. Zero means no timeout.
	Timeout time.Duration
}

// CronService runs jobs on cron schedules. Runs of the same job never
// overlap; a tick that fires while the previous run is still going is
// skipped.
type CronService struct {
	loc  *time.Location
	jobs []Job
	log  *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	busy    map[string]bool
}

var _ Service = (*CronService)(nil)

// NewCronService creates a cron service evaluating schedules in loc.
func NewCronService(loc *time.Location, log *logger.Logger) *CronService {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.NewDefault("cron")
	}
	return &CronService{loc: loc, log: log, busy: make(map[string]bool)}
}

// Add registers a job. The schedule is validated immediately.
func (c *CronService) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and func are required")
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return nil
}

func (c *CronService) Name() string { return "cron" }

func (c *CronService) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.cron = cron.New(cron.WithLocation(c.loc))
	for _, job := range c.jobs {
		job := job
		if _, err := c.cron.AddFunc(job.Schedule, func() { c.RunNow(job) }); err != nil {
			c.cancel()
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		c.log.WithField("job", job.Name).WithField("schedule", job.Schedule).Info("job scheduled")
	}
	c.cron.Start()
	c.running = true
	return nil
}

func (c *CronService) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stopped := c.cron.Stop()
	cancel := c.cancel
	c.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()
	return nil
}

// RunNow executes a job synchronously unless a run of it is in progress.
func (c *CronService) RunNow(job Job) {
	c.mu.Lock()
	if c.busy[job.Name] {
		c.mu.Unlock()
		c.log.WithField("job", job.Name).Warn("previous run still in progress; skipping")
		return
	}
	c.busy[job.Name] = true
	ctx := c.ctx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.busy, job.Name)
		c.mu.Unlock()
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	metrics.RecordJobRun(job.Name, time.Since(start), err == nil)
	if err != nil {
		c.log.WithError(err).WithField("job", job.Name).Error("job failed")
		return
	}
	c.log.WithField("job", job.Name).WithField("duration", time.Since(start).String()).Debug("job finished")
}

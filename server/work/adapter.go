package work

import (
	"fmt"

	"github.com/go-co-op/gocron"
	"github.com/havenapp/haven/server/cron"
	"github.com/havenapp/haven/server/models"
	"github.com/pkg/errors"
)

const MAX_CONCURRENCY = 1

// WorkerPoolAdapter ties the worker pool, the cron scheduler & the
// requeuers together behind one start/stop surface.
type WorkerPoolAdapter struct {
	cronScheduler      *gocron.Scheduler
	pool               *WorkerPool
	scheduledRequeuer  *requeuer
	stuckJobsRequeuer  *requeuer
	skipStuckJobsSweep bool
}

// NewWorkerAdapter creates the adapter. With testMode set, the
// stuck-jobs sweep stays off so short-lived tests don't race it.
func NewWorkerAdapter(timeZoneArg string, testMode bool) *WorkerPoolAdapter {
	pool, err := newWorkerPool(MAX_CONCURRENCY)
	if err != nil {
		logg.Panic(err)
	}

	scheduledRequeuer, err := newRequeuer(models.SCHEDULED_JOB)
	if err != nil {
		logg.Panic(err)
	}

	stuckJobsRequeuer, err := newRequeuer(models.IN_PROGRESS_JOB)
	if err != nil {
		logg.Panic(err)
	}

	return &WorkerPoolAdapter{
		cronScheduler:      cron.NewCronScheduler(timeZoneArg),
		pool:               pool,
		scheduledRequeuer:  scheduledRequeuer,
		stuckJobsRequeuer:  stuckJobsRequeuer,
		skipStuckJobsSweep: testMode,
	}
}

// Start starts the cron scheduler, worker pool & requeuers
func (adapter *WorkerPoolAdapter) Start() error {
	logg.Info("Starting cron scheduler & worker pool")
	adapter.cronScheduler.StartAsync()
	adapter.pool.start()
	adapter.scheduledRequeuer.start()

	if !adapter.skipStuckJobsSweep {
		adapter.stuckJobsRequeuer.start()
	}

	return nil
}

// Stop stops the cron scheduler, worker pool & requeuers
func (adapter *WorkerPoolAdapter) Stop() error {
	logg.Info("Stopping cron scheduler & worker pool")
	adapter.cronScheduler.Stop()
	adapter.pool.stop()
	adapter.scheduledRequeuer.stop()

	if !adapter.skipStuckJobsSweep {
		adapter.stuckJobsRequeuer.stop()
	}

	return nil
}

// Register binds a name to a handler.
func (adapter *WorkerPoolAdapter) Register(name string, handler Handler) error {
	return adapter.pool.registerHandler(name, handler)
}

// Perform sends a new job to the queue, now - to be executed as soon as a worker is available
func (adapter *WorkerPoolAdapter) Perform(job JobParams) error {
	logg.Infof("Enqueuing job: %v", job.Name)

	err := adapter.pool.enqueue(job)
	if errors.Is(err, models.ErrDuplicateJob) {
		logg.Warnf("Duplicate job already in queue for: %v", job.Name)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error enqueuing job: %v, %v", job.Name, err)
	}

	return nil
}

// PerformIn schedules a job to join the queue after 'secondsInFuture' seconds
func (adapter *WorkerPoolAdapter) PerformIn(secondsInFuture int64, job JobParams) error {
	logg.Infof("Scheduling job: %v to run in %vs", job.Name, secondsInFuture)

	err := adapter.pool.enqueueIn(secondsInFuture, job)
	if err != nil {
		return fmt.Errorf("error scheduling job: %v, %v", job.Name, err)
	}

	return nil
}

// PeriodicallyPerform adds a job to the queue (to be executed)
// periodically, based on the 'cronExpression' expression provided
func (adapter *WorkerPoolAdapter) PeriodicallyPerform(cronExpression string, job JobParams) error {
	_, err := adapter.cronScheduler.Cron(cronExpression).Tag(job.Name).
		Do(
			func(job JobParams) {
				err := adapter.Perform(job)
				if err != nil {
					logg.Error(err)
				}
			},
			job,
		)

	return err
}

func (adapter *WorkerPoolAdapter) RemovePeriodicJob(jobName string) {
	adapter.cronScheduler.RemoveByTag(jobName)
}

package work

import (
	"testing"
	"time"

	"github.com/havenapp/haven/server/models"
	"github.com/stretchr/testify/assert"
)

func TestEnqueueIn(t *testing.T) {
	models.InitializeTestDb()

	workerPool, err := newWorkerPool(MAX_CONCURRENCY)
	assert.Nil(t, err)

	err = workerPool.enqueueIn(1, JobParams{
		Name:    "sos_retry_sweep",
		Handler: "sos_retry_sweep",
		Args: map[string]interface{}{
			"window_minutes": 30,
		},
	})
	assert.Nil(t, err)

	// At some point we need to be able to
	// mock the current time, instead of stopping the
	// process. For now, keep it simple
	time.Sleep(1 * time.Second)

	// Make sure the correct job is created & scheduled to be run
	job, err := models.FirstScheduledJobToBeQueued()
	assert.Nil(t, err)
	assert.Equal(t, "sos_retry_sweep", job.Name, "The job name should match the expected job name")
	assert.Contains(t, job.Args, "window_minutes", "Should contain the correct arg values")
	assert.Equal(t, models.SCHEDULED_JOB, job.JobStatus.Name, "The job should be in scheduled queue")
}

func TestEnqueueUniqueJob(t *testing.T) {
	models.InitializeTestDb()

	workerPool, err := newWorkerPool(MAX_CONCURRENCY)
	assert.Nil(t, err)

	job := JobParams{
		Name:    "sqlite_backup",
		Handler: "sqlite_backup",
		Unique:  true,
		Args:    map[string]interface{}{},
	}

	err = workerPool.enqueue(job)
	assert.Nil(t, err)

	// a second enqueue while the first is still queued is rejected
	err = workerPool.enqueue(job)
	assert.ErrorIs(t, err, models.ErrDuplicateJob)
}

func TestRegisterHandlerRejectsDuplicates(t *testing.T) {
	models.InitializeTestDb()

	workerPool, err := newWorkerPool(MAX_CONCURRENCY)
	assert.Nil(t, err)

	handler := func(args map[string]interface{}) error { return nil }

	err = workerPool.registerHandler("sqlite_backup", handler)
	assert.Nil(t, err)

	err = workerPool.registerHandler("sqlite_backup", handler)
	assert.ErrorIs(t, err, ErrDuplicateHandler)
}

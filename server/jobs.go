package server

import (
	"fmt"
	"path/filepath"

	"github.com/havenapp/haven/server/gstorage"
	"github.com/havenapp/haven/server/models"
	"github.com/havenapp/haven/server/work"
	"github.com/havenapp/haven/shared"
)

const (
	SQLITE_BACKUP_JOB   = "sqlite_backup"
	SOS_RETRY_SWEEP_JOB = "sos_retry_sweep"

	// How far back the sweep looks for failed alerts worth re-dispatching
	RETRY_SWEEP_WINDOW_MINUTES = 24 * 60
)

func registerJobHandlers(pool *work.WorkerPoolAdapter) {
	fatalOnError(pool.Register(SQLITE_BACKUP_JOB, backupSqliteDb))
	fatalOnError(pool.Register(SOS_RETRY_SWEEP_JOB, sosRetrySweep))
}

// enqueueJobs schedules the server's periodic jobs based on config:
// encrypted sqlite backups to cloud storage & the failed-alert retry sweep.
func enqueueJobs(pool *work.WorkerPoolAdapter, appConfig *shared.ServerConfig) {
	if configFlagEnabled(appConfig.Google.Storage.EnableSqliteBackupAndSync) {
		err := pool.PeriodicallyPerform(appConfig.Google.Storage.SqliteBackupSchedule, work.JobParams{
			Name:    SQLITE_BACKUP_JOB,
			Handler: SQLITE_BACKUP_JOB,
			Unique:  true,
			Args:    map[string]interface{}{},
		})
		fatalOnError(err)
	}

	if configFlagEnabled(appConfig.Haven.Sos.EnableRetrySweep) {
		schedule := appConfig.Haven.Sos.RetrySweepSchedule
		if schedule == "" {
			schedule = "*/10 * * * *"
		}

		err := pool.PeriodicallyPerform(schedule, work.JobParams{
			Name:    SOS_RETRY_SWEEP_JOB,
			Handler: SOS_RETRY_SWEEP_JOB,
			Unique:  true,
			Args:    map[string]interface{}{},
		})
		fatalOnError(err)
	}
}

// backupSqliteDb pushes the encrypted sqlite file to the configured
// cloud storage bucket. Also run once on shutdown when enabled.
func backupSqliteDb(args map[string]interface{}) error {
	storageConfig := serverConfig.Google.Storage

	gStorage, err := gstorage.NewGStorage(serverConfig.Google.ApplicationCredentials)
	if err != nil {
		return err
	}

	dbDir, err := models.DbDirectory(appRootDir)
	if err != nil {
		return err
	}

	dbFilePath := filepath.Join(dbDir, models.DB_NAME)
	err = gStorage.UploadFile(storageConfig.Bucket, storageConfig.Prefix, dbFilePath)
	if err != nil {
		return fmt.Errorf("backupSqliteDb: %v", err)
	}

	logg.Infof("%v backed up to gs://%v/%v", models.DB_NAME, storageConfig.Bucket, storageConfig.Prefix)
	return nil
}

// sosRetrySweep re-dispatches alerts that still have failed deliveries,
// so a transient provider outage doesn't leave anyone un-notified.
func sosRetrySweep(args map[string]interface{}) error {
	return dispatchEngine.RetrySweep(RETRY_SWEEP_WINDOW_MINUTES)
}

func configFlagEnabled(value interface{}) bool {
	enabled, ok := value.(bool)
	return ok && enabled
}

package models

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/havenapp/haven/server/logger"
	"github.com/havenapp/haven/utils"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const DB_NAME = "haven.db"

var logg = logger.NewLogger()
var db *gorm.DB

// AutoMigrate auto-migrates the db schema and inserts seed data
func AutoMigrate(passPhrase string, dbRootDir string) error {
	err := openDB(passPhrase, dbRootDir)
	if err != nil {
		return err
	}

	err = migrateAndSeed()
	if err != nil {
		return err
	}

	return nil
}

// InitializeTestDb points the package at a shared in-memory database,
// wiping whatever a previous test left behind.
func InitializeTestDb() {
	var err error

	db, err = gorm.Open(sqliteEncrypt.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		logg.Panicf("failed to connect test database: %v", err)
	}

	db.Migrator().DropTable(
		&SOSStatus{}, &JobStatus{}, &Job{}, &Role{},
		&EmergencyContact{}, &SOSAlert{}, &AvailabilityDay{},
		&ScheduleWindow{}, &Appointment{}, &User{},
	)

	if err = migrateAndSeed(); err != nil {
		logg.Panicf("failed to migrate test database: %v", err)
	}
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//
func openDB(passPhrase string, dbRootDir string) error {
	var err error
	var dbDSNVal string

	dbDSNVal, err = dbDSN(passPhrase, dbRootDir)
	if err != nil {
		return fmt.Errorf("failed to set sqlite DSN: %v", err)
	}

	db, err = gorm.Open(sqliteEncrypt.Open(dbDSNVal), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %v", err)
	}

	return nil
}

func newGormLogger() gormLogger.Interface {
	return gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			LogLevel:                  gormLogger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func migrateAndSeed() error {
	err := db.AutoMigrate(
		&SOSStatus{}, &JobStatus{}, &Job{},
		&Role{}, &EmergencyContact{}, &SOSAlert{},
		&AvailabilityDay{}, &ScheduleWindow{}, &Appointment{},
		&User{},
	)
	if err != nil {
		return err
	}

	populateDBWithSeedData()
	return nil
}

func populateDBWithSeedData() {
	if err := db.First(&SOSStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'SOSStatus'")
		db.Create(&[]SOSStatus{
			{Name: PENDING_SOS}, {Name: SENT_SOS}, {Name: FAILED_SOS},
			{Name: CANCELLED_SOS}, {Name: RESOLVED_SOS},
		})
	}

	if err := db.First(&JobStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'JobStatus'")
		db.Create(&[]JobStatus{
			{Name: ENQUEUED_JOB}, {Name: IN_PROGRESS_JOB}, {Name: SUCCESSFUL_JOB},
			{Name: DEAD_JOB}, {Name: SCHEDULED_JOB},
		})
	}

	if err := db.First(&Role{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'Role'")
		db.Create(&[]Role{{Name: ADMIN_ROLE}, {Name: COUNSELOR_ROLE}, {Name: BASIC_ROLE}})
	}
}

func dbDSN(passPhrase string, dbRootDir string) (string, error) {
	dbDir, err := DbDirectory(dbRootDir)
	if err != nil {
		return "", err
	}

	dbFilePath := filepath.Join(dbDir, DB_NAME)
	dbName := fmt.Sprintf("file:%v", dbFilePath)

	return fmt.Sprintf(
		"%v?_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL",
		dbName,
		passPhrase,
	), nil
}

func DbDirectory(dbRootDir string) (string, error) {
	dbDir := filepath.Join(dbRootDir, "db")

	err := utils.CreateDirIfNotExist(dbDir)
	if err != nil {
		return "", err
	}

	return dbDir, nil
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

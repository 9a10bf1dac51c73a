package repository

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/regen_bazaar/model"
)

const (
	connectAttempts = 3
	connectDelay    = time.Second
)

// Open connects to postgres, retrying with exponential backoff, and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	return OpenDialector(postgres.Open(dsn))
}

func OpenDialector(dialector gorm.Dialector) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			break
		}
		log.Warn("Database connection attempt failed", "attempt", i+1, "err", err)
		if i < connectAttempts-1 {
			time.Sleep(connectDelay * time.Duration(1<<i))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

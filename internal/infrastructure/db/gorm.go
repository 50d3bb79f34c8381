package db

import (
	"time"

	"spv-ledger/internal/domain/cashflow"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/syncstate"
	"spv-ledger/internal/infrastructure/logger"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func OpenGorm(dsn string, debug bool) (*gorm.DB, error) {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return openGorm(mysql.Open(dsn), level)
}

// OpenGormWithDialector opens gorm over a prepared dialector (used with sqlmock in tests).
func OpenGormWithDialector(dial gorm.Dialector) (*gorm.DB, error) {
	return openGorm(dial, gormlogger.Silent)
}

func openGorm(dial gorm.Dialector, level gormlogger.LogLevel) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	}
	db, err := gorm.Open(dial, cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(30)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	logger.Infof("gorm: connected", nil)
	return db, nil
}

// Models lists every persisted entity in dependency order.
func Models() []any {
	return []any{
		&loan.TokenizationSpec{},
		&loan.Loan{},
		&investor.Investor{},
		&investor.Position{},
		&cashflow.Cashflow{},
		&syncstate.Cursor{},
		&syncstate.ProcessedTx{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

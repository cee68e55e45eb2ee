package db

import (
	"fmt"
	stlog "log"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"zapdesk/internal/models"
)

// Open initializes the database connection for the given DSN. Postgres DSNs
// use the postgres driver, anything else is treated as a sqlite path
// (":memory:" included, which the tests rely on).
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gormLogLevel := gormlogger.Warn
	if log.Logger.GetLevel() <= 0 {
		gormLogLevel = gormlogger.Info
	}

	newLogger := gormlogger.New(
		stlog.New(log.Logger, "", 0),
		gormlogger.Config{
			LogLevel:                  gormLogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{Logger: newLogger, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return conn, nil
}

// Migrate runs AutoMigrate for every pipeline table.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("database not initialized")
	}

	err := conn.AutoMigrate(
		&models.QueuedMessage{},
		&models.DeadLetterMessage{},
		&models.ChatbotState{},
		&models.AutomationTrigger{},
		&models.TriggerActivation{},
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.NlpIntentConfig{},
		&models.LogEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	log.Info().Msg("Database migration completed")
	return nil
}

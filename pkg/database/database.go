package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/wolftax/oferta_tools/pkg/config"
)

var db *gorm.DB

// Init opens the database connection for the configured driver.
func Init() error {
	var err error
	dbType := config.GetString("database.type")

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "t_",
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	switch dbType {
	case "postgres":
		db, err = gorm.Open(postgres.Open(config.GetDSN()), gormConfig)
	case "mysql":
		db, err = gorm.Open(mysql.Open(config.GetDSN()), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(config.GetDSN()), gormConfig)
	default:
		return fmt.Errorf("%w: unsupported database type %q", config.ErrInvalidDatabaseConfig, dbType)
	}

	if err != nil {
		return fmt.Errorf("connect to database failed: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB failed: %v", err)
	}

	sqlDB.SetMaxIdleConns(config.GetInt("database.max_idle_conns"))
	sqlDB.SetMaxOpenConns(config.GetInt("database.max_open_conns"))
	sqlDB.SetConnMaxLifetime(time.Duration(config.GetInt("database.conn_max_lifetime")) * time.Second)
	return nil
}

// GetDB returns the shared connection.
func GetDB() *gorm.DB {
	return db
}

// Close closes the underlying connection pool.
func Close() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

package database

import (
	"context"
	"statefuzz/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DBParams struct {
	fx.In

	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Logger    *zap.Logger
}

// NewDBConnection opens the postgres database and migrates the crash and
// seed tables. It returns nil when no DATABASE_URL is configured; consumers
// then skip persistence.
func NewDBConnection(p DBParams) *gorm.DB {
	dsn := p.AppConfig.Backends.DatabaseURL
	if dsn == "" {
		p.Logger.Debug("no database configured")
		return nil
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		p.Logger.Fatal("failed to connect database", zap.Error(err))
	}
	if err := db.AutoMigrate(&Crash{}, &Seed{}); err != nil {
		p.Logger.Fatal("failed to migrate database", zap.Error(err))
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	p.Logger.Debug("connected to database")
	return db
}

package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/icodeforyou/netztransparenz-go/config"
	"github.com/icodeforyou/netztransparenz-go/database"
)

func NewMaintenanceTask(logger *slog.Logger, db *database.Database, cnfg *config.AppConfig) func() {
	return func() {
		logger.Debug("running maintenance task...")

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()

		if info, err := db.Backup(ctx, "scheduled"); err != nil {
			logger.Error("database backup error", slog.Any("error", err))
		} else {
			logger.Debug("database backed up", slog.String("path", info.Path), slog.Int64("bytes", info.Size))
		}

		if n, err := db.PurgeBackups(ctx, cnfg.Database.GetBackupRetentionDays()); err != nil {
			logger.Error("backup maintenance error", slog.Any("error", err))
		} else {
			logger.Debug("backups purged", slog.Int("files", n))
		}

		if err := db.PurgeLog(ctx, cnfg.Logging.GetDbMaxEntries()); err != nil {
			logger.Error("log maintenance error", slog.Any("error", err))
		}

		if n, err := db.PurgeSeries(ctx, cnfg.Database.GetDataRetentionDays()); err != nil {
			logger.Error("series maintenance error", slog.Any("error", err))
		} else {
			logger.Debug("series purged", slog.Int64("rows", n))
		}

		if n, err := db.PurgeFetchLog(ctx, cnfg.Database.GetFetchLogRetentionDays()); err != nil {
			logger.Error("fetch_log maintenance error", slog.Any("error", err))
		} else {
			logger.Debug("fetch log purged", slog.Int64("rows", n))
		}

		logger.Info("maintenance task done")
	}
}

package cli

import (
	"context"
	"fmt"

	"github.com/tbourn/go-access-bot/internal/config"
	"github.com/tbourn/go-access-bot/internal/repo"
	"github.com/tbourn/go-access-bot/internal/services"
)

// openStore builds the record store for the configured driver. The returned
// close function releases driver resources.
func openStore(ctx context.Context, cfg config.StoreConfig) (*repo.RecordStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		sheet, closeDB, err := openCellSheet(cfg)
		if err != nil {
			return nil, nil, err
		}
		return repo.NewRecordStore(sheet, cfg.ColumnsTTL), closeDB, nil
	case config.DriverSheets:
		creds, err := cfg.ServiceAccount()
		if err != nil {
			return nil, nil, err
		}
		sheet, err := repo.NewGoogleSheet(ctx, cfg.SpreadsheetID, cfg.SheetName, creds)
		if err != nil {
			return nil, nil, err
		}
		return repo.NewRecordStore(sheet, cfg.ColumnsTTL), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openCellSheet(cfg config.StoreConfig) (*repo.CellSheet, func() error, error) {
	db, err := repo.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return repo.NewCellSheet(db, cfg.SheetName), sqlDB.Close, nil
}

func newIssuanceService(store services.RecordStore, cfg config.StoreConfig) *services.IssuanceService {
	svc := services.NewIssuanceService(store, services.Columns{
		Identity:   cfg.EmailColumn,
		Credential: cfg.CodeColumn,
		Subscriber: cfg.TelegramIDColumn,
	})
	svc.StoreTimeout = cfg.Timeout
	svc.GateWait = cfg.GateWait
	return svc
}

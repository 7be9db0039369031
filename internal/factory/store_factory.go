package factory

import (
	"fmt"

	"github.com/mikey/email-triage/internal/adapters/store"
	"github.com/mikey/email-triage/internal/config"
	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

// TriageStore is the full storage surface. Every backend implements all the
// store ports over one database.
type TriageStore interface {
	core.RuleStore
	core.ExampleStore
	core.TrainingStore
	core.AnalysisStore
	core.EmailStore
}

// StoreFactory creates storage backends
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{cfg: cfg, logger: logger}
}

// CreateStore creates the configured storage backend
func (f *StoreFactory) CreateStore() (TriageStore, error) {
	storageCfg := f.cfg.GetStorage()
	analysisCfg := f.cfg.GetAnalysis()

	switch storageCfg.Type {
	case "sqlite":
		f.logger.Info("Using SQLite storage", zap.String("path", storageCfg.SQLitePath))
		return store.NewSQLiteStore(storageCfg.SQLitePath, analysisCfg.Version, analysisCfg.Model, f.logger)
	case "mysql":
		f.logger.Info("Using MySQL storage")
		return store.NewMySQLStore(storageCfg.MySQLDSN, analysisCfg.Version, analysisCfg.Model, f.logger)
	case "memory":
		f.logger.Info("Using in-memory storage")
		return store.NewMemoryStore(analysisCfg.Version, analysisCfg.Model, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageCfg.Type)
	}
}

package core

import (
	"fmt"
	"os"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/internal/status"
	"labcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	LABCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	LABCORE_SQLITE_PATH: path to sqlite file (default ./labcore.db)
//	LABCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := os.Getenv("LABCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv("LABCORE_SQLITE_PATH"), engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(os.Getenv("LABCORE_POSTGRES_DSN"), engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenStatusValidator loads the status catalog named by LABCORE_STATUS_CATALOG,
// falling back to the built-in catalog.
func OpenStatusValidator() (*status.Validator, error) {
	path := os.Getenv("LABCORE_STATUS_CATALOG")
	if path == "" {
		return DefaultStatusValidator()
	}
	cat, err := status.LoadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	reg, err := status.NewRegistry(cat)
	if err != nil {
		return nil, fmt.Errorf("status catalog %s: %w", path, err)
	}
	return status.NewValidator(reg), nil
}

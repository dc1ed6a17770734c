package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/internal/status"
	"labcore/pkg/domain"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore(nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	t.Setenv("LABCORE_STORAGE_DRIVER", "")
	t.Setenv("LABCORE_SQLITE_PATH", path)

	v := defaultValidator(t)
	store, err := OpenPersistentStore(NewDefaultRulesEngine(v))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sqliteStore, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })
	if sqliteStore.Path() != path {
		t.Fatalf("expected path %s, got %s", path, sqliteStore.Path())
	}

	svc, err := NewService(store, WithStatusValidator(v))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	worklist := seedWorklist(t, svc, "glucose")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}

	reopened, err := OpenPersistentStore(NewDefaultRulesEngine(v))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.(*sqlite.Store).Close() })
	if _, ok := reopened.GetWorklist(worklist.ID); !ok {
		t.Fatalf("expected worklist to survive reopen")
	}
	if got := reopened.ListAssignments(worklist.ID); len(got) != 1 || got[0].Status != domain.TechniqueStatusPending {
		t.Fatalf("unexpected assignments after reopen %+v", got)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "etcd")
	store, err := OpenPersistentStore(nil)
	if err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if store != nil {
		t.Fatalf("expected nil store, got %T", store)
	}
}

func TestOpenStatusValidator(t *testing.T) {
	t.Setenv("LABCORE_STATUS_CATALOG", "")
	v, err := OpenStatusValidator()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if !v.Exists(status.DomainTechnique, string(domain.TechniqueStatusInProcess)) {
		t.Fatalf("expected built-in technique statuses")
	}

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	catalog := `domains:
  - key: worklist
    states:
      - {key: created, label: Created, priority: 1}
      - {key: technician_assigned, label: Staffed, priority: 2}
      - {key: techniques_started, label: Running, priority: 3}
      - {key: results_imported, label: Done, priority: 4, terminal: true}
  - key: technique
    states:
      - {key: pending, label: Waiting, priority: 1}
      - {key: in_process, label: Running, priority: 2}
      - {key: completed, label: Done, priority: 3, terminal: true}
      - {key: cancelled, label: Dropped, priority: 4, terminal: true}
    transitions:
      pending: [in_process, cancelled]
      in_process: [completed, cancelled]
`
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	t.Setenv("LABCORE_STATUS_CATALOG", path)
	v, err = OpenStatusValidator()
	if err != nil {
		t.Fatalf("file catalog: %v", err)
	}
	def, ok := v.Registry().State(status.DomainTechnique, "cancelled")
	if !ok || def.Label != "Dropped" {
		t.Fatalf("expected label from file catalog, got %+v", def)
	}
	if v.Registry().HasDomain(status.DomainSample) {
		t.Fatalf("file catalog must replace the built-in domains")
	}
	if _, err := NewInMemoryService(nil, WithStatusValidator(v)); err != nil {
		t.Fatalf("service over file catalog: %v", err)
	}

	dup := filepath.Join(t.TempDir(), "dup.yaml")
	if err := os.WriteFile(dup, []byte("domains:\n  - key: technique\n    states: [{key: a, label: A, priority: 1}]\n  - key: technique\n    states: [{key: b, label: B, priority: 1}]\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	t.Setenv("LABCORE_STATUS_CATALOG", dup)
	if _, err := OpenStatusValidator(); err == nil {
		t.Fatalf("expected duplicate domain to fail")
	}

	t.Setenv("LABCORE_STATUS_CATALOG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := OpenStatusValidator(); err == nil {
		t.Fatalf("expected missing catalog to fail")
	}
}

func TestServiceOverSQLiteStorePersistsResults(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lab.db")
	v := defaultValidator(t)
	store, err := sqlite.NewStore(path, NewDefaultRulesEngine(v))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc, err := NewService(store, WithStatusValidator(v))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	worklist := startedWorklist(t, svc, "glucose")
	res, err := svc.ReconcileResults(ctx, worklist.ID, []resultItem{
		{Parent: &domain.ParentRef{WorklistID: worklist.ID, TechniqueID: "glucose"}, Fields: ResultFields{NumericValue: floatPtr(4.2)}},
	})
	if err != nil || !res.Success() {
		t.Fatalf("import: %v %+v", err, res)
	}

	reopened, err := sqlite.NewStore(path, NewDefaultRulesEngine(v))
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	again, err := NewService(reopened, WithStatusValidator(v))
	if err != nil {
		t.Fatalf("service over reopened store: %v", err)
	}
	stage, err := again.ResolveStage(ctx, worklist.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stage.Stage != domain.StageResultsImported {
		t.Fatalf("expected results_imported after reopen, got %s", stage.Stage)
	}
}

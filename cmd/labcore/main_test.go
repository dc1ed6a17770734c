package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labcore/internal/blob"
	"labcore/internal/core"
	"labcore/internal/reconcile"
	"labcore/internal/status"
	"labcore/pkg/domain"
)

// setupEnv points the CLI at a fresh sqlite file and filesystem archive.
func setupEnv(t *testing.T) (archiveRoot string) {
	t.Helper()
	dir := t.TempDir()
	archiveRoot = filepath.Join(dir, "archive")
	t.Setenv("LABCORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("LABCORE_SQLITE_PATH", filepath.Join(dir, "lab.db"))
	t.Setenv("LABCORE_BLOB_DRIVER", "fs")
	t.Setenv("LABCORE_BLOB_FS_ROOT", archiveRoot)
	t.Setenv("LABCORE_STATUS_CATALOG", "")
	t.Setenv("LABCORE_LOG_LEVEL", "")
	return archiveRoot
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("labcore %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	return stdout
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}

func writeBatch(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	path := filepath.Join(t.TempDir(), "batch.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	return path
}

func TestCatalogCommand(t *testing.T) {
	setupEnv(t)
	all := decode[[]catalogDomain](t, mustRun(t, "catalog"))
	if len(all) != 4 {
		t.Fatalf("expected four built-in domains, got %d", len(all))
	}

	technique := decode[catalogDomain](t, mustRun(t, "catalog", "--domain", status.DomainTechnique))
	if technique.Key != status.DomainTechnique || len(technique.States) != 4 {
		t.Fatalf("unexpected technique domain %+v", technique)
	}
	if got := technique.Transitions["pending"]; len(got) != 2 || got[0] != "in_process" || got[1] != "cancelled" {
		t.Fatalf("unexpected pending transitions %v", got)
	}
	if _, ok := technique.Transitions["completed"]; ok {
		t.Fatalf("terminal states must have no transitions")
	}

	var unknown status.UnknownDomainError
	if _, _, err := runCLI(t, "catalog", "--domain", "billing"); !errors.As(err, &unknown) {
		t.Fatalf("expected unknown domain error, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("domains:\n  - key: technique\n    states: [{key: a, label: A, priority: 0}]\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, _, err := runCLI(t, "catalog", "--file", bad); err == nil {
		t.Fatalf("expected invalid catalog to fail")
	}
}

func TestWorklistLifecycleCommands(t *testing.T) {
	archiveRoot := setupEnv(t)

	created := decode[core.WorklistDetail](t, mustRun(t, "worklist", "create", "--name", "Chemistry", "--technique", "glucose", "--technique", "urea"))
	id := created.Worklist.ID
	if id == "" || len(created.Assignments) != 2 || created.Stage.Stage != domain.StageCreated {
		t.Fatalf("unexpected created worklist %+v", created)
	}

	stage := decode[stageView](t, mustRun(t, "stage", id))
	if stage.Stage != domain.StageCreated || stage.Label != "Created" || stage.Reasons["start_techniques"] == "" {
		t.Fatalf("unexpected stage view %+v", stage)
	}
	if len(stage.Next) != 1 || stage.Next[0] != domain.StageTechnicianAssigned {
		t.Fatalf("unexpected next stages %v", stage.Next)
	}

	if _, _, err := runCLI(t, "worklist", "start", id); err == nil || !strings.Contains(err.Error(), "cannot start_techniques") {
		t.Fatalf("expected start to be gated, got %v", err)
	}

	mustRun(t, "worklist", "assign", id, "--technician-name", "Ana")
	mustRun(t, "worklist", "start", id)
	if got := decode[stageView](t, mustRun(t, "stage", id)); got.Stage != domain.StageTechniquesStarted {
		t.Fatalf("expected techniques_started, got %s", got.Stage)
	}

	lots := writeBatch(t, []reconcile.Item[core.LotFields]{
		{Parent: &domain.ParentRef{WorklistID: id, TechniqueID: "glucose"}, Fields: core.LotFields{LotCode: "GL-1"}},
	})
	lotRes := decode[reconcile.Result](t, mustRun(t, "reconcile", "lots", id, "--file", lots))
	if lotRes.Created != 1 || !lotRes.Success() {
		t.Fatalf("unexpected lot result %+v", lotRes)
	}

	value := 5.1
	results := writeBatch(t, []reconcile.Item[core.ResultFields]{
		{Parent: &domain.ParentRef{WorklistID: id, TechniqueID: "urea"}, Fields: core.ResultFields{NumericValue: &value}},
		{Fields: core.ResultFields{NumericValue: &value}},
	})
	stdout, _, err := runCLI(t, "reconcile", "results", id, "-f", results)
	if !errors.Is(err, errPartialBatch) || exitCode(err) != 2 {
		t.Fatalf("expected partial batch exit, got %v", err)
	}
	partial := decode[reconcile.Result](t, stdout)
	if partial.Created != 1 || partial.Failed != 1 || partial.Items[1].Error != reconcile.ReasonMissingKey {
		t.Fatalf("unexpected partial result %+v", partial)
	}

	detail := decode[core.WorklistDetail](t, mustRun(t, "worklist", "show", id))
	if detail.Stage.Stage != domain.StageResultsImported || len(detail.Lots) != 1 {
		t.Fatalf("unexpected detail after import %+v", detail)
	}
	mustRun(t, "worklist", "template", id, "tpl-chem")

	var ureaID string
	for _, a := range detail.Assignments {
		if a.TechniqueID == "urea" {
			ureaID = a.ID
		}
	}
	mustRun(t, "worklist", "set-status", ureaID, "completed")
	counts := decode[[]status.StateCount](t, mustRun(t, "worklist", "counts", id))
	if len(counts) != 4 || counts[1].Count != 1 || counts[2].Count != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	running := decode[[]domain.TechniqueAssignment](t, mustRun(t, "worklist", "techniques", id, "--status", "in_process"))
	if len(running) != 1 || running[0].TechniqueID != "glucose" {
		t.Fatalf("unexpected filtered techniques %+v", running)
	}

	archive, err := blob.NewFilesystem(archiveRoot)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	reports, err := archive.List(context.Background(), "reconciliations/"+id+"/")
	if err != nil || len(reports) != 2 {
		t.Fatalf("expected two archived reports, got %v %+v", err, reports)
	}
}

func TestReconcileCommandErrors(t *testing.T) {
	setupEnv(t)
	if _, _, err := runCLI(t, "reconcile", "lots", "wl-1"); err == nil || !strings.Contains(err.Error(), "--file") {
		t.Fatalf("expected missing file error, got %v", err)
	}
	if _, _, err := runCLI(t, "reconcile", "lots", "wl-1", "--file", filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatalf("expected open error")
	}
	garbage := filepath.Join(t.TempDir(), "garbage.json")
	if err := os.WriteFile(garbage, []byte(`[{"fields": {"lot_code": "x", "colour": "red"}}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := runCLI(t, "reconcile", "lots", "wl-1", "--file", garbage); err == nil || !strings.Contains(err.Error(), "decode batch") {
		t.Fatalf("expected decode error, got %v", err)
	}
	created := decode[core.WorklistDetail](t, mustRun(t, "worklist", "create", "--name", "Haematology", "--technique", "hb"))
	mustRun(t, "worklist", "assign", created.Worklist.ID, "--technician-id", "tech-7")
	mustRun(t, "worklist", "start", created.Worklist.ID)
	allBad := writeBatch(t, []reconcile.Item[core.LotFields]{{Fields: core.LotFields{LotCode: "HB-1"}}, {Fields: core.LotFields{LotCode: "HB-2"}}})
	stdout, _, err := runCLI(t, "reconcile", "lots", created.Worklist.ID, "--file", allBad)
	if !errors.Is(err, errFailedBatch) || errors.Is(err, errPartialBatch) || exitCode(err) != 1 {
		t.Fatalf("expected a fully failed batch to exit 1, got %v", err)
	}
	if res := decode[reconcile.Result](t, stdout); res.Failed != 2 || res.Partial() {
		t.Fatalf("unexpected failed result %+v", res)
	}

	empty := writeBatch(t, []reconcile.Item[core.LotFields]{})
	var notFound domain.NotFoundError
	if _, _, err := runCLI(t, "reconcile", "lots", "wl-1", "--file", empty); !errors.As(err, &notFound) || exitCode(err) != 1 {
		t.Fatalf("expected unknown worklist, got %v", err)
	}
}

func TestGlobalFlags(t *testing.T) {
	setupEnv(t)
	if _, _, err := runCLI(t, "--log-level", "loud", "catalog"); err == nil {
		t.Fatalf("expected invalid log level to fail")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	_, stderr, err := runCLI(t, "--metrics-addr", addr, "--log-level", "debug", "catalog")
	if err != nil {
		t.Fatalf("catalog with metrics: %v", err)
	}
	if !strings.Contains(stderr, "serving metrics") {
		t.Fatalf("expected metrics log line, got %q", stderr)
	}
	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(fmt.Sprintf("http://%s/metrics", addr)); err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		t.Fatalf("expected metrics server to stop with the command")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{fmt.Errorf("%w: items [0]", errPartialBatch), 2},
		{fmt.Errorf("%w: items [0 1]", errFailedBatch), 1},
		{errors.Join(fmt.Errorf("%w: items [1]", errPartialBatch), nil), 2},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	setupEnv(t)
	var code = -1
	orig := exitFunc
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = orig }()
	origArgs := os.Args
	os.Args = []string{"labcore", "catalog", "--domain", "billing"}
	defer func() { os.Args = origArgs }()

	stdout, stderr := os.Stdout, os.Stderr
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	os.Stdout, os.Stderr = devNull, devNull
	defer func() {
		os.Stdout, os.Stderr = stdout, stderr
		_ = devNull.Close()
	}()

	main()
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

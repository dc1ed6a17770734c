package blob

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestOpenSelectsDriver(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	cases := []struct {
		name string
		env  map[string]string
		want Driver
	}{
		{name: "default filesystem", env: map[string]string{"LABCORE_BLOB_FS_ROOT": root}, want: DriverFilesystem},
		{name: "memory", env: map[string]string{"LABCORE_BLOB_DRIVER": "memory"}, want: DriverMemory},
		{name: "s3", env: map[string]string{
			"LABCORE_BLOB_DRIVER":        "s3",
			"LABCORE_BLOB_S3_BUCKET":     "reports",
			"LABCORE_BLOB_S3_ENDPOINT":   "https://minio.local",
			"LABCORE_BLOB_S3_PATH_STYLE": "TRUE",
		}, want: DriverS3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := open(context.Background(), envMap(tc.env))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if store.Driver() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, store.Driver())
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := open(context.Background(), envMap(map[string]string{"LABCORE_BLOB_DRIVER": "tape"})); err == nil || !strings.Contains(err.Error(), "unknown blob driver tape") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
	if _, err := open(context.Background(), envMap(map[string]string{"LABCORE_BLOB_DRIVER": "s3"})); err == nil || !strings.Contains(err.Error(), "LABCORE_BLOB_S3_BUCKET") {
		t.Fatalf("expected missing bucket error, got %v", err)
	}
}

func TestOpenReadsProcessEnvironment(t *testing.T) {
	t.Setenv("LABCORE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}
}

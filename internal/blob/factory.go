package blob

import (
	"context"
	"fmt"
	"os"

	"labcore/internal/infra/blob/fs"
	memorystore "labcore/internal/infra/blob/memory"
	infraS3 "labcore/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// Open selects a blob.Store implementation using environment variables.
//
//	LABCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	LABCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in internal/infra/blob/s3)
func Open(ctx context.Context) (Store, error) {
	return open(ctx, os.Getenv)
}

func open(ctx context.Context, getenv func(string) string) (Store, error) {
	driver := getenv("LABCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(getenv("LABCORE_BLOB_FS_ROOT"))
	case DriverS3:
		cfg, err := infraS3.ConfigFromEnv(getenv)
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, cfg)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at the provided path.
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3ForTests exposes the in-process S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }

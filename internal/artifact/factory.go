package artifact

import (
	"context"
	"fmt"

	"pulseboard/internal/config"
)

// StoreType represents the type of artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromConfig builds the store selected by ARTIFACT_STORAGE_TYPE (fs when empty).
func NewStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	storeType := StoreType(cfg.ArtifactStorageType)
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dir := cfg.ArtifactDir
		if dir == "" {
			dir = "screenshots"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		region := cfg.ArtifactS3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.ArtifactBucket,
			Region:   region,
			Endpoint: cfg.ArtifactS3Endpoint,
			Prefix:   cfg.ArtifactPrefix,
		})
	case StoreTypeGCS:
		return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.ArtifactBucket, Prefix: cfg.ArtifactPrefix})
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", storeType)
	}
}

// Package storage selects the artifact store used for error backups and
// final lead snapshots.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/storage/gcs"
	"github.com/JakeFAU/leadcrawler/internal/storage/local"
	"github.com/JakeFAU/leadcrawler/internal/storage/memory"
	"github.com/JakeFAU/leadcrawler/internal/storage/s3"
)

// Backend names accepted by Config.Backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config chooses and configures one artifact backend.
type Config struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
	S3      s3.Config    `mapstructure:"s3"`
}

// Open builds the configured store. The returned close func is never nil.
func Open(ctx context.Context, cfg Config) (crawler.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		store, err := local.New(cfg.Local)
		if err != nil {
			return nil, noop, fmt.Errorf("open local artifacts: %w", err)
		}
		return store, noop, nil
	case BackendGCS:
		store, err := gcs.Open(ctx, cfg.GCS)
		if err != nil {
			return nil, noop, fmt.Errorf("open gcs artifacts: %w", err)
		}
		return store, store.Close, nil
	case BackendS3:
		store, err := s3.Open(ctx, cfg.S3)
		if err != nil {
			return nil, noop, fmt.Errorf("open s3 artifacts: %w", err)
		}
		return store, noop, nil
	case BackendMemory:
		return memory.NewBlobStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

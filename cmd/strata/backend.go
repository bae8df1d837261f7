package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pithecene-io/strata/internal/config"
	"github.com/pithecene-io/strata/strata"
	"github.com/pithecene-io/strata/strata/bolt"
	s3store "github.com/pithecene-io/strata/strata/s3"
)

// backend is an opened repository store plus the options every repository
// and session on it should use.
type backend struct {
	store strata.Store
	opts  []strata.Option
	close func() error
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{
		opts: []strata.Option{
			strata.WithLogger(logger),
			strata.WithInlineThreshold(cfg.Repository.InlineThreshold),
			strata.WithDefaultBranch(cfg.Repository.DefaultBranch),
		},
		close: func() error { return nil },
	}

	// Any configured bucket also serves s3:// virtual chunk refs.
	var client s3store.API
	if cfg.Storage.Backend == config.BackendS3 || cfg.Storage.S3.Bucket != "" {
		c, err := s3store.NewClient(ctx, s3store.ClientConfig{
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.PathStyle,
			Credentials:  s3store.StaticCredentials(cfg.Storage.S3.AccessKeyID, cfg.Storage.S3.SecretAccessKey),
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		client = c
		b.opts = append(b.opts, strata.WithVirtualStoreFactory(strata.SchemeS3, s3store.VirtualStoreFactory(c)))
	}

	switch cfg.Storage.Backend {
	case config.BackendFS:
		if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
			return nil, err
		}
		s, err := strata.NewFS(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		b.store = s
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, err
		}
		s, err := bolt.Open(logger, cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		b.store, b.close = s, s.Close
	case config.BackendS3:
		s, err := s3store.New(client, s3store.Config{
			Bucket: cfg.Storage.S3.Bucket,
			Prefix: cfg.Storage.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		b.store = s
	case config.BackendMemory:
		b.store = strata.NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	logger.Debug("storage opened",
		zap.String("backend", string(cfg.Storage.Backend)),
		zap.String("path", cfg.Storage.Path),
	)
	return b, nil
}

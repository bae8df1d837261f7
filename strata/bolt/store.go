// Package bolt provides an embedded single-file Store for strata, backed by
// bbolt. It suits local repositories that should live in one file and need
// compare-and-swap without filesystem locks.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/pithecene-io/strata/strata"
)

var (
	defaultTimeout = 1 * time.Second
)

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0o600

	objectBucketName = "objects"
)

// Store implements strata.Store and strata.ConditionalWriter in a bbolt
// database. Every key is one entry of the "objects" bucket.
type Store struct {
	logger *zap.Logger
	db     *bbolt.DB
	Path   string
}

// Open opens or creates the database file at path. Opening a file held by
// another process fails after one second.
func Open(logger *zap.Logger, path string) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bbolt.Open(path, fileMode, &bbolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(objectBucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}
	logger.Debug("bolt store opened", zap.String("path", path))

	return &Store{
		logger: logger,
		db:     db,
		Path:   path,
	}, nil
}

// Factory returns a strata.StoreFactory opening the database at path.
func Factory(logger *zap.Logger, path string) strata.StoreFactory {
	return func() (strata.Store, error) {
		return Open(logger, path)
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) key(key string) ([]byte, error) {
	cleaned, ok := strata.CleanKey(key)
	if !ok {
		return nil, strata.ErrInvalidPath
	}
	return []byte(cleaned), nil
}

// Put writes data to key. Returns ErrPathExists if key already exists.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := s.key(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("bolt: read body: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(objectBucketName))
		if b.Get(k) != nil {
			return strata.ErrPathExists
		}
		return b.Put(k, data)
	})
}

// Get returns the value of key. Returns ErrNotFound if key is absent.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.value(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// value copies the stored bytes out of the read transaction.
func (s *Store) value(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(objectBucketName)).Get(k)
		if v == nil {
			return strata.ErrNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.value(ctx, key)
	if errors.Is(err, strata.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns the keys beginning with prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := []byte(prefix)
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(objectBucketName)).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := s.key(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(objectBucketName)).Delete(k)
	})
}

// ReadRange returns up to length bytes of key starting at offset. Offsets
// past the end yield an empty slice.
func (s *Store) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, strata.ErrInvalidPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(objectBucketName)).Get(k)
		if v == nil {
			return strata.ErrNotFound
		}
		size := int64(len(v))
		if offset >= size {
			out = []byte{}
			return nil
		}
		end := size
		if length < size-offset {
			end = offset + length
		}
		out = bytes.Clone(v[offset:end])
		return nil
	})
	return out, err
}

// CompareAndSwap replaces key's value with replacement if it currently
// equals expected; an empty expected requires key to be absent. The check
// and write happen in one bbolt transaction.
func (s *Store) CompareAndSwap(ctx context.Context, key, expected, replacement string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := s.key(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(objectBucketName))
		cur := b.Get(k)
		switch {
		case expected == "" && cur != nil:
			return strata.ErrSnapshotConflict
		case expected != "" && (cur == nil || string(cur) != expected):
			return strata.ErrSnapshotConflict
		}
		return b.Put(k, []byte(replacement))
	})
}

// Compile-time checks.
var (
	_ strata.Store             = (*Store)(nil)
	_ strata.ConditionalWriter = (*Store)(nil)
)

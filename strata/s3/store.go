// Package s3 provides an S3-compatible Store for strata.
//
// The store serves two roles: as the backing store of a repository, where
// snapshots, manifests, chunks and branches live under an optional key
// prefix, and as the reader behind virtual chunk locations of the form
// s3://bucket/key (see VirtualStoreFactory).
//
// It works with AWS S3 and with S3-compatible services such as MinIO,
// LocalStack and Cloudflare R2, provided they honor conditional writes.
//
// # Store contract
//
//   - Put: PutObject with If-None-Match "*"; an existing key is ErrPathExists.
//   - Get/Exists/Delete: ErrNotFound for missing keys; Delete is idempotent.
//   - List: full pagination, keys returned relative to the prefix.
//   - ReadRange: HTTP Range requests; offsets past EOF return no bytes.
//   - CompareAndSwap: If-None-Match "*" to create, If-Match on the current
//     ETag to replace.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pithecene-io/strata/strata"
)

// maxReadRangeLength bounds ReadRange so lengths convert to int safely on
// 32-bit platforms.
const maxReadRangeLength = int64(math.MaxInt)

// API defines the subset of the S3 client interface used by the store.
// This enables testing with mock implementations.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// A trailing slash is added if missing.
	Prefix string
}

// Store implements strata.Store and strata.ConditionalWriter on an
// S3-compatible backend.
type Store struct {
	client API
	bucket string
	prefix string
}

// New creates a new S3 store with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint;
// see NewClient.
//
// Example:
//
//	client, err := s3store.NewClient(ctx, s3store.ClientConfig{Region: "us-east-1"})
//	store, err := s3store.New(client, s3store.Config{Bucket: "arrays", Prefix: "repo"})
//	repo, err := strata.InitRepository(ctx, store, true)
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// VirtualStoreFactory returns a factory serving s3:// virtual chunk
// locations with client, one store per bucket.
//
//	ds, err := strata.Create(store, strata.WithVirtualStoreFactory(strata.SchemeS3, s3store.VirtualStoreFactory(client)))
func VirtualStoreFactory(client API) strata.VirtualStoreFactory {
	return func(_ context.Context, bucket string) (strata.Store, error) {
		return New(client, Config{Bucket: bucket})
	}
}

// Put writes data to the given key.
// Returns ErrPathExists if the key already exists.
// Returns ErrInvalidPath for empty or escaping keys.
//
// Objects are written with PutObject and If-None-Match "*", which makes
// the no-overwrite check atomic on the server. Chunk, manifest and snapshot
// objects are bounded in size, so the body is buffered in memory.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("s3: reading body: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return strata.ErrPathExists
		}
		return fmt.Errorf("s3: put object: %w", err)
	}
	return nil
}

// Get retrieves data from the given key.
// Returns ErrNotFound if the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, strata.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}

	return out.Body, nil
}

// Exists checks whether a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return false, err
	}

	return s.exists(ctx, fullKey)
}

// List returns all keys under the given prefix in lexical order.
// Pagination is handled automatically; all matching keys are returned.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix, err := s.validatePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	var continuationToken *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: list objects: %w", err)
		}

		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	slices.Sort(keys)
	return keys, nil
}

// Delete removes the key if it exists.
// Safe to call on missing keys (idempotent).
func (s *Store) Delete(ctx context.Context, key string) error {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return fmt.Errorf("s3: delete object: %w", err)
	}

	return nil
}

// ReadRange reads length bytes starting at offset.
// Returns ErrNotFound if the key does not exist.
// Returns ErrInvalidPath for negative offset/length or overflow.
// If offset is beyond EOF, returns an empty slice.
// If the range extends beyond EOF, returns the available bytes.
// If length is 0, only existence is checked.
func (s *Store) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || length > maxReadRangeLength {
		return nil, strata.ErrInvalidPath
	}
	if offset > math.MaxInt64-length {
		return nil, strata.ErrInvalidPath
	}

	fullKey, err := s.validateKey(key)
	if err != nil {
		return nil, err
	}

	if length == 0 {
		exists, err := s.exists(ctx, fullKey)
		if err != nil {
			return nil, fmt.Errorf("s3: checking existence: %w", err)
		}
		if !exists {
			return nil, strata.ErrNotFound
		}
		return []byte{}, nil
	}

	// S3 Range header format: "bytes=start-end" (inclusive)
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, strata.ErrNotFound
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("s3: range read: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading range body: %w", err)
	}

	return data, nil
}

// CompareAndSwap replaces the content of key with replacement if it
// currently equals expected. An empty expected requires the key to be
// absent. Mismatches return ErrSnapshotConflict.
//
// Replacement is conditioned on the ETag observed when reading the current
// content, so a concurrent writer between the read and the write also
// produces ErrSnapshotConflict.
func (s *Store) CompareAndSwap(ctx context.Context, key, expected, replacement string) error {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey),
		Body:          strings.NewReader(replacement),
		ContentLength: aws.Int64(int64(len(replacement))),
	}

	if expected == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			if isNotFound(err) {
				return strata.ErrSnapshotConflict
			}
			return fmt.Errorf("s3: compare and swap: %w", err)
		}
		current, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return fmt.Errorf("s3: compare and swap: %w", err)
		}
		if string(current) != expected {
			return strata.ErrSnapshotConflict
		}
		if out.ETag == nil {
			return fmt.Errorf("s3: compare and swap: no ETag for %s", fullKey)
		}
		in.IfMatch = out.ETag
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) || isNotFound(err) {
			return strata.ErrSnapshotConflict
		}
		return fmt.Errorf("s3: compare and swap: %w", err)
	}
	return nil
}

// exists checks if an object exists (internal helper).
func (s *Store) exists(ctx context.Context, fullKey string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// validateKey validates and returns the full key for object operations.
func (s *Store) validateKey(key string) (string, error) {
	if key == "" {
		return "", strata.ErrInvalidPath
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", strata.ErrInvalidPath
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", strata.ErrInvalidPath
	}

	return s.prefix + cleaned, nil
}

// validatePrefix validates and returns the full prefix for list operations.
// A trailing slash is kept so "branches/" does not match "branchesX".
func (s *Store) validatePrefix(prefix string) (string, error) {
	if prefix == "" {
		return s.prefix, nil
	}

	cleaned := path.Clean(prefix)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", strata.ErrInvalidPath
	}
	if cleaned == "." {
		return s.prefix, nil
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if strings.HasSuffix(prefix, "/") && cleaned != "" {
		cleaned += "/"
	}

	return s.prefix + cleaned, nil
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// isPreconditionFailed reports a failed conditional write.
// ConditionalRequestConflict (409) is returned by S3 when two conditional
// writes to the same key race.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "412", "ConditionalRequestConflict", "409":
		return true
	}
	return false
}

// Compile-time checks.
var (
	_ strata.Store             = (*Store)(nil)
	_ strata.ConditionalWriter = (*Store)(nil)
)

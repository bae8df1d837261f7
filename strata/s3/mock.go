package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// -----------------------------------------------------------------------------
// Mock S3 Client for Testing
// -----------------------------------------------------------------------------

type mockObject struct {
	data []byte
	etag string
}

// MockS3Client is an in-memory test double for API. It keys objects by
// bucket and key, assigns a fresh ETag on every write, and honors
// If-None-Match and If-Match on PutObject.
type MockS3Client struct {
	mu      sync.RWMutex
	objects map[string]mockObject
	version int

	// Call counters for test assertions
	PutObjectCalls int
	GetObjectCalls int

	// PageSize limits ListObjectsV2 pages when positive.
	PageSize int
}

// NewMockS3Client creates a new mock S3 client for testing.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{objects: make(map[string]mockObject)}
}

func mockKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

// ResetCounts resets call counters for test isolation.
func (m *MockS3Client) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutObjectCalls = 0
	m.GetObjectCalls = 0
}

// PutObject implements API.PutObject for testing.
func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := mockKey(params.Bucket, params.Key)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.PutObjectCalls++

	current, exists := m.objects[key]
	if aws.ToString(params.IfNoneMatch) == "*" && exists {
		return nil, &smithyAPIError{code: "PreconditionFailed", message: "object already exists"}
	}
	if params.IfMatch != nil {
		if !exists {
			return nil, &smithyAPIError{code: "NoSuchKey", message: "object does not exist"}
		}
		if current.etag != aws.ToString(params.IfMatch) {
			return nil, &smithyAPIError{code: "PreconditionFailed", message: "etag mismatch"}
		}
	}

	m.version++
	etag := fmt.Sprintf("\"v%d\"", m.version)
	m.objects[key] = mockObject{data: data, etag: etag}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

// GetObject implements API.GetObject for testing.
func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.GetObjectCalls++
	obj, exists := m.objects[mockKey(params.Bucket, params.Key)]
	m.mu.Unlock()

	if !exists {
		return nil, &types.NoSuchKey{}
	}

	data := obj.data
	if params.Range != nil {
		var start, end int64
		_, _ = fmt.Sscanf(aws.ToString(params.Range), "bytes=%d-%d", &start, &end)

		if start >= int64(len(data)) {
			return nil, &smithyAPIError{code: "InvalidRange"}
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}

	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
		ETag: aws.String(obj.etag),
	}, nil
}

// HeadObject implements API.HeadObject for testing.
func (m *MockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.RLock()
	obj, exists := m.objects[mockKey(params.Bucket, params.Key)]
	m.mu.RUnlock()

	if !exists {
		return nil, &smithyAPIError{code: "NotFound", message: "not found"}
	}
	return &s3.HeadObjectOutput{
		ETag:          aws.String(obj.etag),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

// DeleteObject implements API.DeleteObject for testing.
func (m *MockS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	delete(m.objects, mockKey(params.Bucket, params.Key))
	m.mu.Unlock()

	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 implements API.ListObjectsV2 for testing. Continuation
// tokens are the last key of the previous page.
func (m *MockS3Client) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	bucketPrefix := aws.ToString(params.Bucket) + "/"
	prefix := aws.ToString(params.Prefix)
	after := aws.ToString(params.ContinuationToken)

	m.mu.RLock()
	var keys []string
	for full := range m.objects {
		key, ok := strings.CutPrefix(full, bucketPrefix)
		if ok && strings.HasPrefix(key, prefix) && key > after {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()
	slices.Sort(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if m.PageSize > 0 && len(keys) > m.PageSize {
		keys = keys[:m.PageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

// PutRaw stores an object unconditionally, for seeding fixtures.
func (m *MockS3Client) PutRaw(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.objects[bucket+"/"+key] = mockObject{data: slices.Clone(data), etag: fmt.Sprintf("\"v%d\"", m.version)}
}

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	code    string
	message string
}

func (e *smithyAPIError) Error() string {
	return e.message
}

func (e *smithyAPIError) ErrorCode() string {
	return e.code
}

func (e *smithyAPIError) ErrorMessage() string {
	return e.message
}

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}

var _ API = (*MockS3Client)(nil)

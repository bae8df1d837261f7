package strata

import (
	"context"
	"io"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Fault-Injection Store Wrapper (test-only)
// -----------------------------------------------------------------------------
//
// faultStore wraps a Store and enables deterministic fault injection for
// flush and read failure paths. It provides:
//   - Error injection on specific operations, optionally by key substring
//   - Call observation/recording
//   - A hook run before each Put
//
// It implements ConditionalWriter when the inner store does.

type faultStore struct {
	inner Store

	mu sync.Mutex

	putErr       error
	putErrMatch  string
	getErr       error
	readRangeErr error
	casErr       error
	putCalls     []string
	getCalls     []string
	readCalls    []string
	casCalls     []string
	beforePut    func(key string)
}

func newFaultStore(inner Store) *faultStore {
	return &faultStore{inner: inner}
}

// SetPutError sets an error to be returned by Put calls.
// If match is non-empty, error is only returned for keys containing match.
func (f *faultStore) SetPutError(err error, match ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
	if len(match) > 0 {
		f.putErrMatch = match[0]
	} else {
		f.putErrMatch = ""
	}
}

// SetGetError sets an error to be returned by all Get calls.
func (f *faultStore) SetGetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

// SetReadRangeError sets an error to be returned by all ReadRange calls.
func (f *faultStore) SetReadRangeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readRangeErr = err
}

// SetCASError sets an error to be returned by CompareAndSwap calls.
func (f *faultStore) SetCASError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casErr = err
}

// SetBeforePut sets a hook called before each Put is forwarded.
func (f *faultStore) SetBeforePut(hook func(key string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforePut = hook
}

// PutCalls returns the keys passed to Put, in order.
func (f *faultStore) PutCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.putCalls...)
}

// ReadRangeCalls returns the keys passed to ReadRange, in order.
func (f *faultStore) ReadRangeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.readCalls...)
}

// Reset clears recorded calls and injected errors.
func (f *faultStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr, f.putErrMatch, f.getErr, f.readRangeErr, f.casErr = nil, "", nil, nil, nil
	f.putCalls, f.getCalls, f.readCalls, f.casCalls = nil, nil, nil, nil
	f.beforePut = nil
}

// --- Store interface ---

func (f *faultStore) Put(ctx context.Context, key string, r io.Reader) error {
	f.mu.Lock()
	f.putCalls = append(f.putCalls, key)
	hook := f.beforePut
	var err error
	if f.putErr != nil && (f.putErrMatch == "" || strings.Contains(key, f.putErrMatch)) {
		err = f.putErr
	}
	f.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if err != nil {
		return err
	}
	return f.inner.Put(ctx, key, r)
}

func (f *faultStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.getCalls = append(f.getCalls, key)
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *faultStore) Exists(ctx context.Context, key string) (bool, error) {
	return f.inner.Exists(ctx, key)
}

func (f *faultStore) List(ctx context.Context, prefix string) ([]string, error) {
	return f.inner.List(ctx, prefix)
}

func (f *faultStore) Delete(ctx context.Context, key string) error {
	return f.inner.Delete(ctx, key)
}

func (f *faultStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	f.readCalls = append(f.readCalls, key)
	err := f.readRangeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.inner.ReadRange(ctx, key, offset, length)
}

func (f *faultStore) CompareAndSwap(ctx context.Context, key, expected, replacement string) error {
	f.mu.Lock()
	f.casCalls = append(f.casCalls, key)
	err := f.casErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.(ConditionalWriter).CompareAndSwap(ctx, key, expected, replacement)
}

// Compile-time checks.
var (
	_ Store             = (*faultStore)(nil)
	_ ConditionalWriter = (*faultStore)(nil)
)

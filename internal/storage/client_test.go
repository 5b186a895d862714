package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/rag"
)

// flakyBackend fails PutVectors with a transient error a fixed number of
// times before delegating.
type flakyBackend struct {
	*MemoryStorage
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyBackend) PutVectors(ctx context.Context, bucket, index string, records []VectorRecord) error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return f.MemoryStorage.PutVectors(ctx, bucket, index, records)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxRetries: 3}
}

func newFlakyClient(t *testing.T, failures int32, err error) (*Client, *flakyBackend) {
	t.Helper()
	backend := &flakyBackend{MemoryStorage: NewMemoryStorage(), failures: failures, err: err}
	client := NewClient(backend, fastRetry(), nil)
	_, ensureErr := client.EnsureIndex(context.Background(), IndexSpec{
		Bucket: "test-bucket", Name: "test-index", Dimension: 2, Metric: DistanceCosine,
	})
	require.NoError(t, ensureErr)
	return client, backend
}

func oneRecord() []VectorRecord {
	return []VectorRecord{{Key: "k", Data: []float32{1, 0}}}
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	client, backend := newFlakyClient(t, 2, transientError("put", errors.New("throttled")))

	err := client.PutVectors(context.Background(), "test-bucket", "test-index", oneRecord())
	require.NoError(t, err)
	assert.EqualValues(t, 3, backend.calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	client, backend := newFlakyClient(t, 100, transientError("put", errors.New("unavailable")))

	err := client.PutVectors(context.Background(), "test-bucket", "test-index", oneRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrStoreFailure)
	assert.NotErrorIs(t, err, rag.ErrStoreTransient, "exhausted retries are no longer transient")
	assert.Contains(t, err.Error(), "unavailable")
	// One initial attempt plus three retries.
	assert.EqualValues(t, 4, backend.calls.Load())
}

func TestClient_DoesNotRetryPermanentErrors(t *testing.T) {
	client, backend := newFlakyClient(t, 100, failure("put", errors.New("access denied")))

	err := client.PutVectors(context.Background(), "test-bucket", "test-index", oneRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrStoreFailure)
	assert.EqualValues(t, 1, backend.calls.Load())
}

func TestClient_ValidatesBeforeCallingBackend(t *testing.T) {
	client, backend := newFlakyClient(t, 0, nil)

	err := client.PutVectors(context.Background(), "Bad_Bucket", "test-index", oneRecord())
	assert.ErrorIs(t, err, ErrValidation)

	err = client.PutVectors(context.Background(), "test-bucket", "test-index", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = client.QueryVectors(context.Background(), QueryRequest{
		Bucket: "test-bucket", Index: "test-index", Vector: []float32{1, 0}, TopK: 0,
	})
	assert.ErrorIs(t, err, rag.ErrConfiguration)

	assert.Zero(t, backend.calls.Load())
}

func TestClient_ListSegmentedRejectsBadCount(t *testing.T) {
	client, _ := newFlakyClient(t, 0, nil)

	_, err := client.ListSegmented(context.Background(), ListRequest{Bucket: "test-bucket", Index: "test-index"}, 0)
	assert.Error(t, err)
	_, err = client.ListSegmented(context.Background(), ListRequest{Bucket: "test-bucket", Index: "test-index"}, 17)
	assert.Error(t, err)
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/vector-rag/internal/rag"
)

// RetryPolicy bounds how transient backend errors are retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int
}

// DefaultRetryPolicy retries up to three times, starting at 100ms and
// doubling up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetries:      3,
	}
}

// Client validates requests, forwards them to a Backend and retries
// transient failures. It holds no per-call state and is safe for concurrent
// use.
type Client struct {
	backend Backend
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewClient wraps backend. A nil logger uses slog.Default().
func NewClient(backend Backend, retry RetryPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{backend: backend, retry: retry, logger: logger}
}

// CreateBucket creates a bucket.
func (c *Client) CreateBucket(ctx context.Context, name string) error {
	if err := ValidateBucketName(name); err != nil {
		return err
	}
	return c.do(ctx, "create bucket", func() error {
		return c.backend.CreateBucket(ctx, name)
	})
}

// CreateIndex creates an index inside an existing bucket.
func (c *Client) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if err := ValidateIndexSpec(spec); err != nil {
		return err
	}
	return c.do(ctx, "create index", func() error {
		return c.backend.CreateIndex(ctx, spec)
	})
}

// EnsureIndex creates the bucket and index if missing. An existing index
// whose dimension or metric differs from spec is a configuration error.
// Idempotent - safe to call multiple times.
func (c *Client) EnsureIndex(ctx context.Context, spec IndexSpec) (*IndexInfo, error) {
	if err := ValidateIndexSpec(spec); err != nil {
		return nil, err
	}
	if err := c.CreateBucket(ctx, spec.Bucket); err != nil && !errors.Is(err, ErrAlreadyExists) {
		return nil, err
	}

	info, err := c.DescribeIndex(ctx, spec.Bucket, spec.Name)
	if errors.Is(err, ErrNotFound) {
		c.logger.Info("Creating index", "bucket", spec.Bucket, "index", spec.Name,
			"dimension", spec.Dimension, "metric", spec.Metric)
		if err := c.CreateIndex(ctx, spec); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		info, err = c.DescribeIndex(ctx, spec.Bucket, spec.Name)
	}
	if err != nil {
		return nil, err
	}

	if info.Dimension != spec.Dimension {
		return nil, fmt.Errorf("%w: index %s/%s has dimension %d, configured %d",
			rag.ErrConfiguration, spec.Bucket, spec.Name, info.Dimension, spec.Dimension)
	}
	if info.Metric != spec.Metric {
		return nil, fmt.Errorf("%w: index %s/%s uses %s distance, configured %s",
			rag.ErrConfiguration, spec.Bucket, spec.Name, info.Metric, spec.Metric)
	}
	return info, nil
}

// DescribeIndex reports an index's dimension, metric and vector count.
func (c *Client) DescribeIndex(ctx context.Context, bucket, index string) (*IndexInfo, error) {
	if err := validateNames(bucket, index); err != nil {
		return nil, err
	}
	var info *IndexInfo
	err := c.do(ctx, "describe index", func() error {
		var err error
		info, err = c.backend.DescribeIndex(ctx, bucket, index)
		return err
	})
	return info, err
}

// DeleteIndex removes an index and all of its vectors.
func (c *Client) DeleteIndex(ctx context.Context, bucket, index string) error {
	if err := validateNames(bucket, index); err != nil {
		return err
	}
	return c.do(ctx, "delete index", func() error {
		return c.backend.DeleteIndex(ctx, bucket, index)
	})
}

// PutVectors upserts at most MaxBatchSize records in one request.
func (c *Client) PutVectors(ctx context.Context, bucket, index string, records []VectorRecord) error {
	if err := validateNames(bucket, index); err != nil {
		return err
	}
	if err := ValidateBatch(records); err != nil {
		return err
	}
	start := time.Now()
	err := c.do(ctx, "put vectors", func() error {
		return c.backend.PutVectors(ctx, bucket, index, records)
	})
	if err != nil {
		return err
	}
	c.logger.Debug("Put vectors", "bucket", bucket, "index", index,
		"count", len(records), "duration", time.Since(start))
	return nil
}

// QueryVectors returns up to TopK neighbors ordered by increasing distance.
func (c *Client) QueryVectors(ctx context.Context, req QueryRequest) ([]Neighbor, error) {
	if err := ValidateQuery(req); err != nil {
		return nil, err
	}
	var neighbors []Neighbor
	err := c.do(ctx, "query vectors", func() error {
		var err error
		neighbors, err = c.backend.QueryVectors(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(neighbors) > req.TopK {
		neighbors = neighbors[:req.TopK]
	}
	return neighbors, nil
}

// ListVectors returns one page of records.
func (c *Client) ListVectors(ctx context.Context, req ListRequest) (*ListResponse, error) {
	if err := ValidateList(req); err != nil {
		return nil, err
	}
	var resp *ListResponse
	err := c.do(ctx, "list vectors", func() error {
		var err error
		resp, err = c.backend.ListVectors(ctx, req)
		return err
	})
	return resp, err
}

// ListAll follows NextToken until the listing is complete.
func (c *Client) ListAll(ctx context.Context, req ListRequest) ([]VectorRecord, error) {
	var all []VectorRecord
	for {
		resp, err := c.ListVectors(ctx, req)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Vectors...)
		if resp.NextToken == "" {
			return all, nil
		}
		req.NextToken = resp.NextToken
	}
}

// ListSegmented lists every segment concurrently and concatenates the
// results in segment order.
func (c *Client) ListSegmented(ctx context.Context, req ListRequest, segments int) ([]VectorRecord, error) {
	if segments < 1 || segments > MaxSegmentCount {
		return nil, validationError("segment count %d must be between 1 and %d", segments, MaxSegmentCount)
	}

	results := make([][]VectorRecord, segments)
	errs := make([]error, segments)
	var wg sync.WaitGroup
	for i := 0; i < segments; i++ {
		wg.Add(1)
		go func(segment int) {
			defer wg.Done()
			r := req
			r.NextToken = ""
			r.SegmentCount = segments
			r.SegmentIndex = segment
			results[segment], errs[segment] = c.ListAll(ctx, r)
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	var all []VectorRecord
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// DeleteVectors removes records by key. Missing keys are ignored.
func (c *Client) DeleteVectors(ctx context.Context, bucket, index string, keys []string) error {
	if err := validateNames(bucket, index); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, "delete vectors", func() error {
		return c.backend.DeleteVectors(ctx, bucket, index, keys)
	})
}

// Health performs a single health check against the backend.
func (c *Client) Health(ctx context.Context) error {
	return c.backend.Health(ctx)
}

// Close releases the backend connection.
func (c *Client) Close() error {
	return c.backend.Close()
}

// do runs op, retrying transient errors with exponential backoff. Other
// errors are returned immediately. Exhausted retries become
// rag.ErrStoreFailure.
func (c *Client) do(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, rag.ErrStoreTransient) {
			c.logger.Warn("Transient vector store error", "op", name, "attempt", attempts, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.retry.MaxRetries, 0))), ctx)
	err := backoff.Retry(operation, policy)
	if err == nil {
		return nil
	}
	if errors.Is(err, rag.ErrStoreTransient) {
		// The transient cause is kept as text only: after the last attempt the
		// error is no longer retryable.
		return fmt.Errorf("%w: %s failed after %d attempts: %v", rag.ErrStoreFailure, name, attempts, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", rag.ErrStoreFailure, name, err)
	}
	return err
}

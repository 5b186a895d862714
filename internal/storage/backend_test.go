package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/rag"
)

// backendFactories lists the backends that run in-process.
func backendFactories(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryStorage() },
		"sqlite": func(t *testing.T) Backend {
			s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "vectors.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func newTestClient(t *testing.T, backend Backend, dim int) *Client {
	t.Helper()
	client := NewClient(backend, DefaultRetryPolicy(), nil)
	_, err := client.EnsureIndex(context.Background(), IndexSpec{
		Bucket: "test-bucket", Name: "test-index", Dimension: dim, Metric: DistanceCosine,
	})
	require.NoError(t, err)
	return client
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestBackends(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("EnsureIndexIsIdempotent", func(t *testing.T) {
				client := newTestClient(t, factory(t), 4)
				info, err := client.EnsureIndex(context.Background(), IndexSpec{
					Bucket: "test-bucket", Name: "test-index", Dimension: 4, Metric: DistanceCosine,
				})
				require.NoError(t, err)
				assert.Equal(t, 4, info.Dimension)
				assert.Equal(t, DistanceCosine, info.Metric)
				assert.Zero(t, info.VectorCount)
			})

			t.Run("EnsureIndexRejectsMismatch", func(t *testing.T) {
				client := newTestClient(t, factory(t), 4)
				_, err := client.EnsureIndex(context.Background(), IndexSpec{
					Bucket: "test-bucket", Name: "test-index", Dimension: 8, Metric: DistanceCosine,
				})
				assert.ErrorIs(t, err, rag.ErrConfiguration)
			})

			t.Run("DescribeMissingIndex", func(t *testing.T) {
				client := NewClient(factory(t), DefaultRetryPolicy(), nil)
				_, err := client.DescribeIndex(context.Background(), "no-bucket", "no-index")
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, err, rag.ErrStoreFailure)
			})

			t.Run("PutAndQuery", func(t *testing.T) {
				ctx := context.Background()
				client := newTestClient(t, factory(t), 4)

				records := []VectorRecord{
					{Key: "a", Data: []float32{1, 0, 0, 0}, Metadata: map[string]any{"text": "alpha", "group": "x"}},
					{Key: "b", Data: []float32{0.9, 0.1, 0, 0}, Metadata: map[string]any{"text": "beta", "group": "y"}},
					{Key: "c", Data: []float32{0, 0, 1, 0}, Metadata: map[string]any{"text": "gamma", "group": "x"}},
				}
				require.NoError(t, client.PutVectors(ctx, "test-bucket", "test-index", records))

				neighbors, err := client.QueryVectors(ctx, QueryRequest{
					Bucket: "test-bucket", Index: "test-index",
					Vector: []float32{1, 0, 0, 0}, TopK: 2,
					ReturnDistance: true, ReturnMetadata: true,
				})
				require.NoError(t, err)
				require.Len(t, neighbors, 2)
				assert.Equal(t, "a", neighbors[0].Key)
				assert.Equal(t, "b", neighbors[1].Key)
				require.NotNil(t, neighbors[0].Distance)
				assert.InDelta(t, 0, *neighbors[0].Distance, 1e-6)
				assert.LessOrEqual(t, *neighbors[0].Distance, *neighbors[1].Distance)
				assert.Equal(t, "alpha", neighbors[0].Metadata["text"])

				filtered, err := client.QueryVectors(ctx, QueryRequest{
					Bucket: "test-bucket", Index: "test-index",
					Vector: []float32{1, 0, 0, 0}, TopK: 5,
					Filter: Filter{"group": "x"},
				})
				require.NoError(t, err)
				require.Len(t, filtered, 2)
				assert.Equal(t, "a", filtered[0].Key)
				assert.Equal(t, "c", filtered[1].Key)
				assert.Nil(t, filtered[0].Distance)
				assert.Nil(t, filtered[0].Metadata)
			})

			t.Run("PutOverwritesByKey", func(t *testing.T) {
				ctx := context.Background()
				client := newTestClient(t, factory(t), 2)

				require.NoError(t, client.PutVectors(ctx, "test-bucket", "test-index",
					[]VectorRecord{{Key: "doc-chunk-0", Data: []float32{1, 0}, Metadata: map[string]any{"text": "old"}}}))
				require.NoError(t, client.PutVectors(ctx, "test-bucket", "test-index",
					[]VectorRecord{{Key: "doc-chunk-0", Data: []float32{0, 1}, Metadata: map[string]any{"text": "new"}}}))

				info, err := client.DescribeIndex(ctx, "test-bucket", "test-index")
				require.NoError(t, err)
				assert.EqualValues(t, 1, info.VectorCount)

				all, err := client.ListAll(ctx, ListRequest{
					Bucket: "test-bucket", Index: "test-index", ReturnData: true, ReturnMetadata: true,
				})
				require.NoError(t, err)
				require.Len(t, all, 1)
				assert.Equal(t, []float32{0, 1}, all[0].Data)
				assert.Equal(t, "new", all[0].Metadata["text"])
			})

			t.Run("PutRejectsWrongDimension", func(t *testing.T) {
				client := newTestClient(t, factory(t), 4)
				err := client.PutVectors(context.Background(), "test-bucket", "test-index",
					[]VectorRecord{{Key: "a", Data: []float32{1, 2, 3}}})
				assert.ErrorIs(t, err, rag.ErrConfiguration)
				assert.ErrorIs(t, err, ErrDimensionMismatch)
			})

			t.Run("QueryRejectsWrongDimension", func(t *testing.T) {
				client := newTestClient(t, factory(t), 4)
				_, err := client.QueryVectors(context.Background(), QueryRequest{
					Bucket: "test-bucket", Index: "test-index", Vector: []float32{1, 0}, TopK: 1,
				})
				assert.ErrorIs(t, err, rag.ErrConfiguration)
			})

			t.Run("ListPaginates", func(t *testing.T) {
				ctx := context.Background()
				client := newTestClient(t, factory(t), 3)
				putKeys(t, client, 25, 3)

				var keys []string
				req := ListRequest{Bucket: "test-bucket", Index: "test-index", MaxResults: 10}
				pages := 0
				for {
					resp, err := client.ListVectors(ctx, req)
					require.NoError(t, err)
					assert.LessOrEqual(t, len(resp.Vectors), 10)
					for _, v := range resp.Vectors {
						keys = append(keys, v.Key)
						assert.Nil(t, v.Data)
					}
					pages++
					if resp.NextToken == "" {
						break
					}
					req.NextToken = resp.NextToken
				}
				assert.Equal(t, 3, pages)
				assert.Len(t, keys, 25)
				assertUnique(t, keys)
			})

			t.Run("SegmentsPartitionKeys", func(t *testing.T) {
				ctx := context.Background()
				client := newTestClient(t, factory(t), 3)
				putKeys(t, client, 60, 3)

				var union []string
				for seg := 0; seg < 4; seg++ {
					recs, err := client.ListAll(ctx, ListRequest{
						Bucket: "test-bucket", Index: "test-index",
						MaxResults: 7, SegmentCount: 4, SegmentIndex: seg,
					})
					require.NoError(t, err)
					for _, r := range recs {
						assert.Equal(t, seg, SegmentOf(r.Key, 4))
						union = append(union, r.Key)
					}
				}
				assert.Len(t, union, 60)
				assertUnique(t, union)

				parallel, err := client.ListSegmented(ctx, ListRequest{
					Bucket: "test-bucket", Index: "test-index", MaxResults: 5,
				}, 4)
				require.NoError(t, err)
				assert.Len(t, parallel, 60)
			})

			t.Run("DeleteVectorsAndIndex", func(t *testing.T) {
				ctx := context.Background()
				client := newTestClient(t, factory(t), 3)
				putKeys(t, client, 5, 3)

				require.NoError(t, client.DeleteVectors(ctx, "test-bucket", "test-index", []string{"key-000", "key-001"}))
				info, err := client.DescribeIndex(ctx, "test-bucket", "test-index")
				require.NoError(t, err)
				assert.EqualValues(t, 3, info.VectorCount)

				require.NoError(t, client.DeleteIndex(ctx, "test-bucket", "test-index"))
				_, err = client.DescribeIndex(ctx, "test-bucket", "test-index")
				assert.ErrorIs(t, err, ErrNotFound)
			})
		})
	}
}

func putKeys(t *testing.T, client *Client, n, dim int) {
	t.Helper()
	records := make([]VectorRecord, n)
	for i := range records {
		records[i] = VectorRecord{
			Key:      fmt.Sprintf("key-%03d", i),
			Data:     unitVector(dim, i),
			Metadata: map[string]any{"i": i},
		}
	}
	require.NoError(t, client.PutVectors(context.Background(), "test-bucket", "test-index", records))
}

func assertUnique(t *testing.T, keys []string) {
	t.Helper()
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		assert.NotEqual(t, sorted[i-1], sorted[i], "duplicate key")
	}
}

func TestSegmentOf(t *testing.T) {
	assert.Equal(t, 0, SegmentOf("anything", 0))
	assert.Equal(t, 0, SegmentOf("anything", 1))
	for _, key := range []string{"a", "doc-chunk-1", "guides/setup.md-chunk-42"} {
		s := SegmentOf(key, 16)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 16)
		assert.Equal(t, s, SegmentOf(key, 16), "segment must be stable")
	}
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(DistanceCosine, []float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1, Distance(DistanceCosine, []float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2, Distance(DistanceCosine, []float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.InDelta(t, 5, Distance(DistanceEuclidean, []float32{0, 0}, []float32{3, 4}), 1e-6)
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(int64(3), 3))
	assert.True(t, valuesEqual(float64(3), 3))
	assert.True(t, valuesEqual("a", "a"))
	assert.True(t, valuesEqual(true, true))
	assert.False(t, valuesEqual("3", 3))
	assert.False(t, valuesEqual(false, true))
}

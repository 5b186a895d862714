package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStorage keeps indexes in process memory and searches by brute force.
// It backs tests and dry runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*memoryIndex
}

type memoryIndex struct {
	info    IndexInfo
	records map[string]VectorRecord
}

// NewMemoryStorage returns an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]map[string]*memoryIndex)}
}

func (s *MemoryStorage) CreateBucket(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; ok {
		return alreadyExistsError("bucket %s", name)
	}
	s.buckets[name] = make(map[string]*memoryIndex)
	return nil
}

func (s *MemoryStorage) CreateIndex(_ context.Context, spec IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[spec.Bucket]
	if !ok {
		return notFoundError("bucket %s", spec.Bucket)
	}
	if _, ok := bucket[spec.Name]; ok {
		return alreadyExistsError("index %s/%s", spec.Bucket, spec.Name)
	}
	bucket[spec.Name] = &memoryIndex{
		info: IndexInfo{
			Bucket:    spec.Bucket,
			Name:      spec.Name,
			Dimension: spec.Dimension,
			Metric:    spec.Metric,
			CreatedAt: time.Now().UTC(),
		},
		records: make(map[string]VectorRecord),
	}
	return nil
}

func (s *MemoryStorage) DescribeIndex(_ context.Context, bucket, index string) (*IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := s.index(bucket, index)
	if err != nil {
		return nil, err
	}
	info := idx.info
	info.VectorCount = int64(len(idx.records))
	return &info, nil
}

func (s *MemoryStorage) DeleteIndex(_ context.Context, bucket, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.index(bucket, index); err != nil {
		return err
	}
	delete(s.buckets[bucket], index)
	return nil
}

func (s *MemoryStorage) PutVectors(_ context.Context, bucket, index string, records []VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.index(bucket, index)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Data) != idx.info.Dimension {
			return dimensionError(len(r.Data), idx.info.Dimension)
		}
	}
	for _, r := range records {
		idx.records[r.Key] = VectorRecord{
			Key:      r.Key,
			Data:     slices.Clone(r.Data),
			Metadata: maps.Clone(r.Metadata),
		}
	}
	return nil
}

func (s *MemoryStorage) QueryVectors(_ context.Context, req QueryRequest) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := s.index(req.Bucket, req.Index)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != idx.info.Dimension {
		return nil, dimensionError(len(req.Vector), idx.info.Dimension)
	}
	candidates := make([]VectorRecord, 0, len(idx.records))
	for _, r := range idx.records {
		candidates = append(candidates, r)
	}
	return rankNeighbors(candidates, req, idx.info.Metric), nil
}

// ListVectors pages in key order. The token is the first key of the next
// page.
func (s *MemoryStorage) ListVectors(_ context.Context, req ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := s.index(req.Bucket, req.Index)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(idx.records))
	for k := range idx.records {
		if k >= req.NextToken && inSegment(k, req) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := pageSize(req)
	resp := &ListResponse{}
	if len(keys) > limit {
		resp.NextToken = keys[limit]
		keys = keys[:limit]
	}
	resp.Vectors = make([]VectorRecord, len(keys))
	for i, k := range keys {
		resp.Vectors[i] = shapeRecord(idx.records[k], req)
	}
	return resp, nil
}

func (s *MemoryStorage) DeleteVectors(_ context.Context, bucket, index string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.index(bucket, index)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(idx.records, k)
	}
	return nil
}

func (s *MemoryStorage) Health(context.Context) error { return nil }

func (s *MemoryStorage) Close() error { return nil }

func (s *MemoryStorage) index(bucket, index string) (*memoryIndex, error) {
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, notFoundError("bucket %s", bucket)
	}
	idx, ok := b[index]
	if !ok {
		return nil, notFoundError("index %s/%s", bucket, index)
	}
	return idx, nil
}

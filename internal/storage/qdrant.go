package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/vector-rag/internal/rag"
)

const (
	// keyField holds the caller's vector key. Qdrant point IDs must be UUIDs
	// or integers, so the ID is derived from the key and the key travels in
	// the payload.
	keyField = "_key"

	// collectionSeparator joins bucket and index into a collection name.
	// Bucket names cannot contain underscores, so the split is unambiguous.
	collectionSeparator = "__"

	scrollPageSize = 256
)

// pointNamespace seeds the UUIDv5 point IDs derived from vector keys.
var pointNamespace = uuid.MustParse("6f1c1d3e-9a8b-4c52-8f0e-2b7d4a9e5c10")

// QdrantConfig holds connection settings for a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStorage maps buckets and indexes onto Qdrant collections named
// "{bucket}__{index}". Qdrant has no bucket concept, so buckets are tracked
// in memory for the lifetime of the process and are otherwise implied by
// their collections.
type QdrantStorage struct {
	client *qdrant.Client
	host   string
	port   int

	mu      sync.Mutex
	buckets map[string]bool
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(cfg QdrantConfig) (*QdrantStorage, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:  client,
		host:    cfg.Host,
		port:    cfg.Port,
		buckets: make(map[string]bool),
	}

	if err := storage.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return storage, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error { return s.Health(ctx) }, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// CollectionName returns the Qdrant collection backing bucket/index.
func CollectionName(bucket, index string) string {
	return bucket + collectionSeparator + index
}

// PointID derives the Qdrant point UUID for a vector key.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func (s *QdrantStorage) CreateBucket(ctx context.Context, name string) error {
	s.mu.Lock()
	known := s.buckets[name]
	s.mu.Unlock()
	if known {
		return alreadyExistsError("bucket %s", name)
	}

	exists, err := s.bucketHasCollections(ctx, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.buckets[name] = true
	s.mu.Unlock()
	if exists {
		return alreadyExistsError("bucket %s", name)
	}
	return nil
}

func (s *QdrantStorage) bucketHasCollections(ctx context.Context, bucket string) (bool, error) {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return false, classifyQdrant("list collections", err)
	}
	for _, name := range collections {
		if strings.HasPrefix(name, bucket+collectionSeparator) {
			return true, nil
		}
	}
	return false, nil
}

func (s *QdrantStorage) CreateIndex(ctx context.Context, spec IndexSpec) error {
	s.mu.Lock()
	known := s.buckets[spec.Bucket]
	s.mu.Unlock()
	if !known {
		exists, err := s.bucketHasCollections(ctx, spec.Bucket)
		if err != nil {
			return err
		}
		if !exists {
			return notFoundError("bucket %s", spec.Bucket)
		}
	}

	name := CollectionName(spec.Bucket, spec.Name)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return classifyQdrant("check collection", err)
	}
	if exists {
		return alreadyExistsError("index %s/%s", spec.Bucket, spec.Name)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(spec.Dimension),
			Distance: toQdrantDistance(spec.Metric),
		}),
	})
	if err != nil {
		return classifyQdrant("create collection", err)
	}

	// The key is the only field every record carries; index it so deletes and
	// lookups by key stay fast.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      keyField,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return classifyQdrant("create key index", err)
	}
	return nil
}

func (s *QdrantStorage) DescribeIndex(ctx context.Context, bucket, index string) (*IndexInfo, error) {
	name := CollectionName(bucket, index)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, classifyQdrant("check collection", err)
	}
	if !exists {
		return nil, notFoundError("index %s/%s", bucket, index)
	}

	collection, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, classifyQdrant("get collection", err)
	}
	params := collection.GetConfig().GetParams().GetVectorsConfig().GetParams()

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, classifyQdrant("count points", err)
	}

	return &IndexInfo{
		Bucket:      bucket,
		Name:        index,
		Dimension:   int(params.GetSize()),
		Metric:      fromQdrantDistance(params.GetDistance()),
		VectorCount: int64(count),
	}, nil
}

func (s *QdrantStorage) DeleteIndex(ctx context.Context, bucket, index string) error {
	name := CollectionName(bucket, index)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return classifyQdrant("check collection", err)
	}
	if !exists {
		return notFoundError("index %s/%s", bucket, index)
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return classifyQdrant("delete collection", err)
	}
	return nil
}

// PutVectors upserts one batch and waits for Qdrant to apply it.
func (s *QdrantStorage) PutVectors(ctx context.Context, bucket, index string, records []VectorRecord) error {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[keyField] = r.Key

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.Key)),
			Vectors: qdrant.NewVectors(r.Data...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionName(bucket, index),
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return classifyQdrant("upsert points", err)
	}
	return nil
}

// QueryVectors performs vector similarity search.
// Qdrant reports cosine similarity as a score, which is converted to a
// distance so results read the same across backends.
func (s *QdrantStorage) QueryVectors(ctx context.Context, req QueryRequest) ([]Neighbor, error) {
	info, err := s.DescribeIndex(ctx, req.Bucket, req.Index)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != info.Dimension {
		return nil, dimensionError(len(req.Vector), info.Dimension)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName(req.Bucket, req.Index),
		Query:          qdrant.NewQuery(req.Vector...),
		Filter:         toQdrantFilter(req.Filter),
		Limit:          qdrant.PtrOf(uint64(req.TopK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, classifyQdrant("query points", err)
	}

	neighbors := make([]Neighbor, 0, len(results))
	for _, result := range results {
		key, meta := splitPayload(result.Payload)
		n := Neighbor{Key: key}
		if req.ReturnDistance {
			d := scoreToDistance(info.Metric, result.Score)
			n.Distance = &d
		}
		if req.ReturnMetadata {
			n.Metadata = meta
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}

// ListVectors scrolls the collection in point ID order. The token is the ID
// of the first point of the next page. Segments are applied client-side
// because Qdrant filters cannot express a hash partition.
func (s *QdrantStorage) ListVectors(ctx context.Context, req ListRequest) (*ListResponse, error) {
	name := CollectionName(req.Bucket, req.Index)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, classifyQdrant("check collection", err)
	}
	if !exists {
		return nil, notFoundError("index %s/%s", req.Bucket, req.Index)
	}

	var offset *qdrant.PointId
	if req.NextToken != "" {
		if _, err := uuid.Parse(req.NextToken); err != nil {
			return nil, validationError("next token %q is not valid for this index", req.NextToken)
		}
		offset = qdrant.NewIDUUID(req.NextToken)
	}

	limit := pageSize(req)
	resp := &ListResponse{}
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize + 1)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(req.ReturnData),
		})
		if err != nil {
			return nil, classifyQdrant("scroll points", err)
		}

		// Offsets are inclusive, so the extra point fetched beyond the page
		// becomes the next offset.
		page := points
		var next *qdrant.PointId
		if len(points) > scrollPageSize {
			page = points[:scrollPageSize]
			next = points[scrollPageSize].Id
		}

		for _, p := range page {
			key, meta := splitPayload(p.Payload)
			if !inSegment(key, req) {
				continue
			}
			if len(resp.Vectors) == limit {
				resp.NextToken = p.Id.GetUuid()
				return resp, nil
			}
			r := VectorRecord{Key: key}
			if req.ReturnData {
				r.Data = p.GetVectors().GetVector().GetData()
			}
			if req.ReturnMetadata {
				r.Metadata = meta
			}
			resp.Vectors = append(resp.Vectors, r)
		}

		if next == nil {
			return resp, nil
		}
		offset = next
	}
}

func (s *QdrantStorage) DeleteVectors(ctx context.Context, bucket, index string, keys []string) error {
	ids := make([]*qdrant.PointId, len(keys))
	for i, k := range keys {
		ids[i] = qdrant.NewIDUUID(PointID(k))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName(bucket, index),
		Points:         qdrant.NewPointsSelector(ids...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return classifyQdrant("delete points", err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func toQdrantDistance(m DistanceMetric) qdrant.Distance {
	if m == DistanceEuclidean {
		return qdrant.Distance_Euclid
	}
	return qdrant.Distance_Cosine
}

func fromQdrantDistance(d qdrant.Distance) DistanceMetric {
	if d == qdrant.Distance_Euclid {
		return DistanceEuclidean
	}
	return DistanceCosine
}

func scoreToDistance(m DistanceMetric, score float32) float32 {
	if m == DistanceEuclidean {
		return score
	}
	return 1 - score
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f))
	for k, v := range f {
		switch val := v.(type) {
		case string:
			must = append(must, qdrant.NewMatch(k, val))
		case bool:
			must = append(must, qdrant.NewMatchBool(k, val))
		default:
			if n, ok := toFloat(val); ok {
				must = append(must, qdrant.NewMatchInt(k, int64(n)))
			} else {
				must = append(must, qdrant.NewMatch(k, fmt.Sprint(val)))
			}
		}
	}
	return &qdrant.Filter{Must: must}
}

// splitPayload separates the stored key from the caller's metadata.
func splitPayload(payload map[string]*qdrant.Value) (string, map[string]any) {
	key := payload[keyField].GetStringValue()
	meta := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == keyField {
			continue
		}
		meta[k] = fromQdrantValue(v)
	}
	return key, meta
}

func fromQdrantValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			out[i] = fromQdrantValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = fromQdrantValue(item)
		}
		return out
	default:
		return nil
	}
}

// classifyQdrant maps gRPC status codes onto the store error kinds.
func classifyQdrant(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return transientError(op, err)
	case codes.NotFound:
		return notFoundError("%s: %v", op, err)
	case codes.InvalidArgument:
		if strings.Contains(strings.ToLower(err.Error()), "dimension") {
			return fmt.Errorf("%w: %w: %s: %v", rag.ErrConfiguration, ErrDimensionMismatch, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transientError(op, err)
	}
	return failure(op, err)
}

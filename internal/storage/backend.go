package storage

import "context"

// Backend is a vector service. Implementations classify their errors with
// rag.ErrStoreTransient or rag.ErrStoreFailure and report missing objects
// with ErrNotFound. Requests reaching a Backend have already been validated
// by Client.
type Backend interface {
	CreateBucket(ctx context.Context, name string) error
	CreateIndex(ctx context.Context, spec IndexSpec) error
	DescribeIndex(ctx context.Context, bucket, index string) (*IndexInfo, error)
	DeleteIndex(ctx context.Context, bucket, index string) error
	PutVectors(ctx context.Context, bucket, index string, records []VectorRecord) error
	QueryVectors(ctx context.Context, req QueryRequest) ([]Neighbor, error)
	ListVectors(ctx context.Context, req ListRequest) (*ListResponse, error)
	DeleteVectors(ctx context.Context, bucket, index string, keys []string) error
	Health(ctx context.Context) error
	Close() error
}

package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Service limits enforced before a request reaches a backend.
const (
	MinBucketNameLength = 3
	MaxBucketNameLength = 63
	MaxIndexNameLength  = 255
	MaxDimension        = 4096
	MaxBatchSize        = 500
	MaxListPageSize     = 1000
	DefaultListPageSize = 500
	MaxSegmentCount     = 16
	MaxMetadataBytes    = 40 * 1024
	MaxKeyLength        = 1024
)

// ValidateBucketName checks the naming rules for buckets: lowercase letters,
// digits and hyphens, starting and ending with a letter or digit.
func ValidateBucketName(name string) error {
	if len(name) < MinBucketNameLength || len(name) > MaxBucketNameLength {
		return validationError("bucket name %q must be between %d and %d characters",
			name, MinBucketNameLength, MaxBucketNameLength)
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return validationError("bucket name %q may only contain lowercase letters, digits and hyphens", name)
		}
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return validationError("bucket name %q must start and end with a letter or digit", name)
	}
	if strings.HasPrefix(name, "xn--") {
		return validationError("bucket name %q must not start with xn--", name)
	}
	if strings.HasSuffix(name, "-s3alias") {
		return validationError("bucket name %q must not end with -s3alias", name)
	}
	return nil
}

// ValidateIndexName checks that name is 1-255 letters, digits, hyphens or
// underscores.
func ValidateIndexName(name string) error {
	if name == "" || len(name) > MaxIndexNameLength {
		return validationError("index name %q must be between 1 and %d characters", name, MaxIndexNameLength)
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return validationError("index name %q may only contain letters, digits, hyphens and underscores", name)
		}
	}
	return nil
}

// ValidateIndexSpec checks names, dimension and metric.
func ValidateIndexSpec(spec IndexSpec) error {
	if err := validateNames(spec.Bucket, spec.Name); err != nil {
		return err
	}
	if spec.Dimension < 1 || spec.Dimension > MaxDimension {
		return validationError("dimension %d must be between 1 and %d", spec.Dimension, MaxDimension)
	}
	if _, err := ParseDistanceMetric(string(spec.Metric)); err != nil {
		return err
	}
	return nil
}

// ParseDistanceMetric maps a configured metric name onto a DistanceMetric.
func ParseDistanceMetric(s string) (DistanceMetric, error) {
	switch DistanceMetric(strings.ToLower(s)) {
	case DistanceCosine:
		return DistanceCosine, nil
	case DistanceEuclidean:
		return DistanceEuclidean, nil
	default:
		return "", validationError("distance metric %q must be cosine or euclidean", s)
	}
}

// ValidateVector rejects empty vectors and non-finite components.
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return validationError("vector must not be empty")
	}
	if len(v) > MaxDimension {
		return validationError("vector has %d dimensions, maximum is %d", len(v), MaxDimension)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return validationError("vector component %d is not a finite number", i)
		}
	}
	return nil
}

// ValidateRecord checks a single record's key, vector and metadata size.
func ValidateRecord(r VectorRecord) error {
	if r.Key == "" || len(r.Key) > MaxKeyLength {
		return validationError("vector key must be between 1 and %d bytes", MaxKeyLength)
	}
	if err := ValidateVector(r.Data); err != nil {
		return fmt.Errorf("record %q: %w", r.Key, err)
	}
	if len(r.Metadata) > 0 {
		encoded, err := json.Marshal(r.Metadata)
		if err != nil {
			return validationError("record %q metadata is not serializable: %v", r.Key, err)
		}
		if len(encoded) > MaxMetadataBytes {
			return validationError("record %q metadata is %d bytes, maximum is %d",
				r.Key, len(encoded), MaxMetadataBytes)
		}
	}
	return nil
}

// ValidateBatch checks batch size and every record. All records must share
// one dimension.
func ValidateBatch(records []VectorRecord) error {
	if len(records) == 0 {
		return validationError("batch must contain at least one vector")
	}
	if len(records) > MaxBatchSize {
		return validationError("batch contains %d vectors, maximum is %d", len(records), MaxBatchSize)
	}
	dim := len(records[0].Data)
	for _, r := range records {
		if err := ValidateRecord(r); err != nil {
			return err
		}
		if len(r.Data) != dim {
			return dimensionError(len(r.Data), dim)
		}
	}
	return nil
}

// ValidateQuery checks a similarity query.
func ValidateQuery(req QueryRequest) error {
	if err := validateNames(req.Bucket, req.Index); err != nil {
		return err
	}
	if req.TopK < 1 {
		return validationError("top k must be at least 1, got %d", req.TopK)
	}
	return ValidateVector(req.Vector)
}

// ValidateList checks paging and segment parameters.
func ValidateList(req ListRequest) error {
	if err := validateNames(req.Bucket, req.Index); err != nil {
		return err
	}
	if req.MaxResults < 0 || req.MaxResults > MaxListPageSize {
		return validationError("max results %d must be between 1 and %d", req.MaxResults, MaxListPageSize)
	}
	if req.SegmentCount < 0 || req.SegmentCount > MaxSegmentCount {
		return validationError("segment count %d must be between 1 and %d", req.SegmentCount, MaxSegmentCount)
	}
	if req.SegmentCount > 0 && (req.SegmentIndex < 0 || req.SegmentIndex >= req.SegmentCount) {
		return validationError("segment index %d must be in [0, %d)", req.SegmentIndex, req.SegmentCount)
	}
	if req.SegmentCount == 0 && req.SegmentIndex != 0 {
		return validationError("segment index requires a segment count")
	}
	return nil
}

func validateNames(bucket, index string) error {
	if err := ValidateBucketName(bucket); err != nil {
		return err
	}
	return ValidateIndexName(index)
}

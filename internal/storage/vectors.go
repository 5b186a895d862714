package storage

import (
	"hash/fnv"
	"math"
	"sort"
)

// SegmentOf returns the segment a key belongs to when an index is listed in
// count segments.
func SegmentOf(key string, count int) int {
	if count <= 1 {
		return 0
	}
	return int(segmentHash(key) % uint32(count))
}

func segmentHash(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

func inSegment(key string, req ListRequest) bool {
	return req.SegmentCount == 0 || SegmentOf(key, req.SegmentCount) == req.SegmentIndex
}

func pageSize(req ListRequest) int {
	if req.MaxResults == 0 {
		return DefaultListPageSize
	}
	return req.MaxResults
}

// Distance computes the metric's distance between a and b. Smaller is closer.
func Distance(metric DistanceMetric, a, b []float32) float32 {
	switch metric {
	case DistanceEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	default:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
	}
}

// matchesFilter reports whether metadata satisfies every equality in filter.
func matchesFilter(metadata map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares metadata values, treating all numeric types alike so
// a filter on chunk_index matches whether the backend hands back int64 or
// float64.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

type scored struct {
	record   VectorRecord
	distance float32
}

// rankNeighbors computes distances for every candidate and returns the topK
// closest, ties broken by key.
func rankNeighbors(candidates []VectorRecord, req QueryRequest, metric DistanceMetric) []Neighbor {
	hits := make([]scored, 0, len(candidates))
	for _, r := range candidates {
		if !matchesFilter(r.Metadata, req.Filter) {
			continue
		}
		hits = append(hits, scored{record: r, distance: Distance(metric, req.Vector, r.Data)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].record.Key < hits[j].record.Key
	})
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	neighbors := make([]Neighbor, len(hits))
	for i, h := range hits {
		n := Neighbor{Key: h.record.Key}
		if req.ReturnDistance {
			d := h.distance
			n.Distance = &d
		}
		if req.ReturnMetadata {
			n.Metadata = h.record.Metadata
		}
		neighbors[i] = n
	}
	return neighbors
}

// shapeRecord drops the parts of r a list request did not ask for.
func shapeRecord(r VectorRecord, req ListRequest) VectorRecord {
	out := VectorRecord{Key: r.Key}
	if req.ReturnData {
		out.Data = r.Data
	}
	if req.ReturnMetadata {
		out.Metadata = r.Metadata
	}
	return out
}

package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS indexes (
	bucket     TEXT NOT NULL,
	name       TEXT NOT NULL,
	dimension  INTEGER NOT NULL,
	metric     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (bucket, name)
);
CREATE TABLE IF NOT EXISTS vectors (
	bucket       TEXT NOT NULL,
	idx          TEXT NOT NULL,
	key          TEXT NOT NULL,
	segment_hash INTEGER NOT NULL,
	data         BLOB NOT NULL,
	metadata     TEXT,
	PRIMARY KEY (bucket, idx, key)
);`

// SQLiteStorage keeps indexes in a local SQLite file. Vectors are stored as
// little-endian float32 blobs and searched by brute force, which suits
// corpora of up to a few hundred thousand chunks.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path. Use ":memory:"
// for a throwaway store.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, validationError("sqlite path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) CreateBucket(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO buckets(name, created_at) VALUES(?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339))
	if isConstraintError(err) {
		return alreadyExistsError("bucket %s", name)
	}
	return classifySQLite("create bucket", err)
}

func (s *SQLiteStorage) CreateIndex(ctx context.Context, spec IndexSpec) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, spec.Bucket).Scan(&exists)
	if err != nil {
		return classifySQLite("create index", err)
	}
	if exists == 0 {
		return notFoundError("bucket %s", spec.Bucket)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO indexes(bucket, name, dimension, metric, created_at) VALUES(?, ?, ?, ?, ?)`,
		spec.Bucket, spec.Name, spec.Dimension, string(spec.Metric), time.Now().UTC().Format(time.RFC3339))
	if isConstraintError(err) {
		return alreadyExistsError("index %s/%s", spec.Bucket, spec.Name)
	}
	return classifySQLite("create index", err)
}

func (s *SQLiteStorage) DescribeIndex(ctx context.Context, bucket, index string) (*IndexInfo, error) {
	info := &IndexInfo{Bucket: bucket, Name: index}
	var metric, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, metric, created_at FROM indexes WHERE bucket = ? AND name = ?`,
		bucket, index).Scan(&info.Dimension, &metric, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("index %s/%s", bucket, index)
	}
	if err != nil {
		return nil, classifySQLite("describe index", err)
	}
	info.Metric = DistanceMetric(metric)
	info.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE bucket = ? AND idx = ?`,
		bucket, index).Scan(&info.VectorCount)
	if err != nil {
		return nil, classifySQLite("count vectors", err)
	}
	return info, nil
}

func (s *SQLiteStorage) DeleteIndex(ctx context.Context, bucket, index string) error {
	if _, err := s.DescribeIndex(ctx, bucket, index); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite("delete index", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE bucket = ? AND idx = ?`, bucket, index); err != nil {
		return classifySQLite("delete index", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE bucket = ? AND name = ?`, bucket, index); err != nil {
		return classifySQLite("delete index", err)
	}
	return classifySQLite("delete index", tx.Commit())
}

// PutVectors upserts the batch in a single transaction.
func (s *SQLiteStorage) PutVectors(ctx context.Context, bucket, index string, records []VectorRecord) error {
	info, err := s.DescribeIndex(ctx, bucket, index)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Data) != info.Dimension {
			return dimensionError(len(r.Data), info.Dimension)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite("put vectors", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vectors(bucket, idx, key, segment_hash, data, metadata)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, idx, key) DO UPDATE SET data = excluded.data, metadata = excluded.metadata`)
	if err != nil {
		return classifySQLite("put vectors", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return validationError("record %q metadata is not serializable: %v", r.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, bucket, index, r.Key, int64(segmentHash(r.Key)),
			encodeVector(r.Data), string(meta)); err != nil {
			return classifySQLite("put vectors", err)
		}
	}
	return classifySQLite("put vectors", tx.Commit())
}

func (s *SQLiteStorage) QueryVectors(ctx context.Context, req QueryRequest) ([]Neighbor, error) {
	info, err := s.DescribeIndex(ctx, req.Bucket, req.Index)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != info.Dimension {
		return nil, dimensionError(len(req.Vector), info.Dimension)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, data, metadata FROM vectors WHERE bucket = ? AND idx = ?`,
		req.Bucket, req.Index)
	if err != nil {
		return nil, classifySQLite("query vectors", err)
	}
	defer rows.Close()

	var candidates []VectorRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("query vectors", err)
	}
	return rankNeighbors(candidates, req, info.Metric), nil
}

// ListVectors pages in key order using the key itself as the cursor.
func (s *SQLiteStorage) ListVectors(ctx context.Context, req ListRequest) (*ListResponse, error) {
	if _, err := s.DescribeIndex(ctx, req.Bucket, req.Index); err != nil {
		return nil, err
	}

	query := `SELECT key, data, metadata FROM vectors WHERE bucket = ? AND idx = ? AND key >= ?`
	args := []any{req.Bucket, req.Index, req.NextToken}
	if req.SegmentCount > 0 {
		query += ` AND segment_hash % ? = ?`
		args = append(args, req.SegmentCount, req.SegmentIndex)
	}
	limit := pageSize(req)
	query += ` ORDER BY key LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLite("list vectors", err)
	}
	defer rows.Close()

	resp := &ListResponse{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if len(resp.Vectors) == limit {
			resp.NextToken = r.Key
			break
		}
		resp.Vectors = append(resp.Vectors, shapeRecord(r, req))
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("list vectors", err)
	}
	return resp, nil
}

func (s *SQLiteStorage) DeleteVectors(ctx context.Context, bucket, index string, keys []string) error {
	if _, err := s.DescribeIndex(ctx, bucket, index); err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := []any{bucket, index}
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE bucket = ? AND idx = ? AND key IN (`+placeholders+`)`, args...)
	return classifySQLite("delete vectors", err)
}

func (s *SQLiteStorage) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (VectorRecord, error) {
	var (
		r    VectorRecord
		blob []byte
		meta sql.NullString
	)
	if err := rows.Scan(&r.Key, &blob, &meta); err != nil {
		return r, classifySQLite("scan vector", err)
	}
	data, err := decodeVector(blob)
	if err != nil {
		return r, failure("decode vector "+r.Key, err)
	}
	r.Data = data
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
			return r, failure("decode metadata "+r.Key, err)
		}
	}
	return r, nil
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func isConstraintError(err error) bool {
	var sqlErr *sqlite.Error
	return errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// classifySQLite marks busy and locked databases as transient.
func classifySQLite(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return transientError(op, err)
		}
	}
	return failure(op, err)
}

package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cleansight/analytics/internal/fingerprint"
	"github.com/cleansight/analytics/internal/session"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	session_id    TEXT PRIMARY KEY,
	vector        BLOB NOT NULL,
	metadata_json TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
`
// #endregion schema

// #region store-struct
// LocalStore is an embedded brute-force cosine index in SQLite.
type LocalStore struct {
	db *sql.DB
}

// Record is one stored fingerprint, as listed by inspect.
type Record struct {
	SessionID string
	Dimension int
	Metadata  Metadata
	UpdatedAt time.Time
}
// #endregion store-struct

// #region constructor
// NewLocalStore opens a SQLite database and runs migrations.
func NewLocalStore(dbPath string) (*LocalStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection keeps ":memory:" databases coherent and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &LocalStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *LocalStore) DB() *sql.DB {
	return s.db
}
// #endregion constructor

// #region upsert
// Upsert inserts or replaces the fingerprint for sessionID.
func (s *LocalStore) Upsert(ctx context.Context, sessionID string, vec []float32, meta Metadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (session_id, vector, metadata_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			vector = excluded.vector,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at`,
		sessionID, encodeVector(vec), string(metaJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fail("upsert", err)
	}
	return nil
}
// #endregion upsert

// #region search
// Search scans every stored fingerprint and returns the k most similar.
func (s *LocalStore) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, vector, metadata_json FROM fingerprints`)
	if err != nil {
		return nil, fail("search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, metaJSON string
		var blob []byte
		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return nil, fail("search", fmt.Errorf("scan row: %w", err))
		}
		h := Hit{SessionID: id, Score: fingerprint.Cosine(vec, decodeVector(blob))}
		_ = json.Unmarshal([]byte(metaJSON), &h.Metadata)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("search", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
// #endregion search

// #region delete
// Delete removes the fingerprint for sessionID. Missing ids are not an error.
func (s *LocalStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE session_id = ?`, sessionID); err != nil {
		return fail("delete", err)
	}
	return nil
}
// #endregion delete

// #region list
// List returns the most recently updated fingerprints.
func (s *LocalStore) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, vector, metadata_json, updated_at
		 FROM fingerprints ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var blob []byte
		var metaJSON, updated string
		if err := rows.Scan(&rec.SessionID, &blob, &metaJSON, &updated); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.Dimension = len(blob) / 4
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list

// Health pings the database.
func (s *LocalStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fail("health", err)
	}
	return nil
}

// #region vector-encoding
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
// #endregion vector-encoding

func fail(op string, err error) error {
	return &session.ExternalServiceError{Service: "similarity_index", Op: op, Err: err}
}

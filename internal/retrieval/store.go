package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/storage"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine search backed
// by the index database. This is the default implementation of VectorStore.
type SQLiteStore struct {
	store *storage.Store
	db    *sql.DB
}

// NewSQLiteStore wraps an open index database.
func NewSQLiteStore(store *storage.Store) *SQLiteStore {
	return &SQLiteStore{store: store, db: store.DB()}
}

// OpenSQLiteStore opens (or creates) the index database in persistDir.
func OpenSQLiteStore(persistDir string) (*SQLiteStore, error) {
	st, err := storage.Open(persistDir)
	if err != nil {
		return nil, &IndexUnavailableError{Target: persistDir, Err: err}
	}
	return NewSQLiteStore(st), nil
}

// Storage exposes the underlying index database (build history, collections).
func (s *SQLiteStore) Storage() *storage.Store { return s.store }

func (s *SQLiteStore) Close() error { return s.store.Close() }

func (s *SQLiteStore) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	got, created, err := s.store.CreateCollection(ctx, storage.Collection{
		Name: c.Name, EmbedModel: c.EmbedModel, Dimension: c.Dimension,
	})
	if err != nil {
		return Collection{}, err
	}
	existing := Collection{Name: got.Name, EmbedModel: got.EmbedModel, Dimension: got.Dimension}
	if !created && (existing.EmbedModel != c.EmbedModel || existing.Dimension != c.Dimension) {
		return existing, mismatch(existing, c.EmbedModel, c.Dimension)
	}
	return existing, nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	got, err := s.store.GetCollection(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return Collection{}, fmt.Errorf("reading collection %s: %w", name, err)
	}
	return Collection{Name: got.Name, EmbedModel: got.EmbedModel, Dimension: got.Dimension}, nil
}

func (s *SQLiteStore) DropCollection(ctx context.Context, name string) error {
	err := s.store.DropCollection(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return err
}

// Upsert inserts or replaces entries in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, entries []Entry) (int, int, error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return 0, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx, `SELECT COUNT(*) FROM entries WHERE collection = ? AND id = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing lookup statement: %w", err)
	}
	defer exists.Close()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (collection, id, text, metadata, access, user_id, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			access = excluded.access,
			user_id = excluded.user_id,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	var added, updated int
	for _, e := range entries {
		if len(e.Vector) != c.Dimension {
			return 0, 0, mismatch(c, c.EmbedModel, len(e.Vector))
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, 0, fmt.Errorf("encoding metadata for %s: %w", e.ID, err)
		}
		var n int
		if err := exists.QueryRowContext(ctx, collection, e.ID).Scan(&n); err != nil {
			return 0, 0, fmt.Errorf("looking up entry %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, e.ID, e.Text, string(meta),
			string(e.Metadata.Access()), e.Metadata.UserID(), encodeFloat32s(e.Vector), now); err != nil {
			return 0, 0, fmt.Errorf("upserting entry %s: %w", e.ID, err)
		}
		if n > 0 {
			updated++
		} else {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing upsert: %w", err)
	}
	return added, updated, nil
}

// Search performs brute-force cosine search over the visible entries of the
// collection and returns the n closest.
func (s *SQLiteStore) Search(ctx context.Context, collection string, vector []float32, n int, filter Filter) ([]ScoredEntry, error) {
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.Dimension {
		return nil, mismatch(c, c.EmbedModel, len(vector))
	}
	if n <= 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find the n closest.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding FROM entries
		WHERE collection = ? AND (access <> 'private' OR (? <> '' AND user_id = ?))`,
		collection, filter.UserID, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	h := &worstFirstHeap{}

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		cand := idDistance{ID: id, Distance: cosineDistance(vector, buf, queryNorm)}
		if h.Len() < n {
			heap.Push(h, cand)
		} else if closer(cand, (*h)[0]) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full entries only for the winners.
	distances := make(map[string]float64, h.Len())
	args := make([]any, 0, h.Len()+1)
	args = append(args, collection)
	for _, item := range *h {
		distances[item.ID] = item.Distance
		args = append(args, item.ID)
	}
	query := `SELECT id, text, metadata, embedding FROM entries
		WHERE collection = ? AND id IN (?` + strings.Repeat(",?", h.Len()-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top entries: %w", err)
	}
	defer fullRows.Close()

	results := make([]ScoredEntry, 0, h.Len())
	for fullRows.Next() {
		var e Entry
		var meta string
		var blob []byte
		if err := fullRows.Scan(&e.ID, &e.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", e.ID, err)
		}
		if e.Vector, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", e.ID, err)
		}
		results = append(results, ScoredEntry{Entry: e, Distance: distances[e.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	// The IN query does not preserve order.
	sortScored(results)
	return results, nil
}

// sortScored orders by ascending distance, then ascending id.
func sortScored(results []ScoredEntry) {
	sort.Slice(results, func(i, j int) bool {
		return closer(
			idDistance{ID: results[i].ID, Distance: results[i].Distance},
			idDistance{ID: results[j].ID, Distance: results[j].Distance},
		)
	})
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.GetCollection(ctx, collection); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE collection = ?`, collection).Scan(&count)
	return count, err
}

// ExportAll returns every entry of the collection ordered by id. Used to copy
// a collection into another backend.
func (s *SQLiteStore) ExportAll(ctx context.Context, collection string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata, embedding FROM entries WHERE collection = ? ORDER BY id ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying all entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var meta string
		var blob []byte
		if err := rows.Scan(&e.ID, &e.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.Metadata = chunk.Metadata{}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", e.ID, err)
		}
		if e.Vector, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosineDistance returns 1 - cos(a, b). aNorm is the precomputed L2 norm of
// a. A zero vector on either side has cosine 0, hence distance 1.
func cosineDistance(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 {
		return 1
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 1
	}
	return 1 - dot/(aNorm*math.Sqrt(bNormSq))
}

// idDistance holds only the ID and distance during the scan phase of Search.
// Full entries are fetched only for the winners.
type idDistance struct {
	ID       string
	Distance float64
}

// closer orders by ascending distance, then ascending id.
func closer(a, b idDistance) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// worstFirstHeap keeps the n closest candidates with the farthest on top.
type worstFirstHeap []idDistance

func (h worstFirstHeap) Len() int           { return len(h) }
func (h worstFirstHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h worstFirstHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirstHeap) Push(x any)        { *h = append(*h, x.(idDistance)) }
func (h *worstFirstHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

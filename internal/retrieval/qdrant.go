package retrieval

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kalambet/dailydrip/internal/chunk"
)

// Compile-time check that QdrantStore implements VectorStore.
var _ VectorStore = (*QdrantStore)(nil)

// Payload keys reserved by QdrantStore. Everything else is chunk metadata.
const (
	payloadChunkID = "chunk_id"
	payloadText    = "text"

	metaEmbedModel = "embed_model"
	metaDimension  = "dimension"
)

// pointNamespace maps chunk ids onto the UUID point ids Qdrant requires.
var pointNamespace = uuid.MustParse("0b7c6a52-9a3e-5d0c-8f7e-3c1d2b4a6e58")

// QdrantStore implements VectorStore against a Qdrant server. The embedding
// stamp lives in the collection metadata.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore connects to a Qdrant gRPC endpoint given as "host:port".
// The port defaults to 6334.
func NewQdrantStore(addr string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, &IndexUnavailableError{Target: addr, Err: fmt.Errorf("invalid port: %w", err)}
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, &IndexUnavailableError{Target: addr, Err: err}
	}
	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointID derives the Qdrant point id for a chunk id.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (s *QdrantStore) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	existing, err := s.GetCollection(ctx, c.Name)
	if err == nil {
		if existing.EmbedModel != c.EmbedModel || existing.Dimension != c.Dimension {
			return existing, mismatch(existing, c.EmbedModel, c.Dimension)
		}
		return existing, nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
		Metadata: qdrant.NewValueMap(map[string]any{
			metaEmbedModel: c.EmbedModel,
			metaDimension:  int64(c.Dimension),
		}),
	})
	if err != nil {
		return Collection{}, fmt.Errorf("creating collection %s: %w", c.Name, err)
	}
	return c, nil
}

func (s *QdrantStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return Collection{}, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return Collection{}, fmt.Errorf("reading collection %s: %w", name, err)
	}
	meta := info.GetConfig().GetMetadata()
	c := Collection{Name: name}
	if v, ok := meta[metaEmbedModel]; ok {
		c.EmbedModel = v.GetStringValue()
	}
	if v, ok := meta[metaDimension]; ok {
		c.Dimension = int(v.GetIntegerValue())
	}
	if c.Dimension == 0 {
		c.Dimension = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	}
	return c, nil
}

func (s *QdrantStore) DropCollection(ctx context.Context, name string) error {
	if _, err := s.GetCollection(ctx, name); err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, entries []Entry) (int, int, error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return 0, 0, err
	}

	ids := make([]*qdrant.PointId, len(entries))
	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		if len(e.Vector) != c.Dimension {
			return 0, 0, mismatch(c, c.EmbedModel, len(e.Vector))
		}
		payload, err := entryPayload(e)
		if err != nil {
			return 0, 0, fmt.Errorf("encoding payload for %s: %w", e.ID, err)
		}
		ids[i] = qdrant.NewIDUUID(pointID(e.ID))
		points[i] = &qdrant.PointStruct{
			Id:      ids[i],
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: payload,
		}
	}

	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("looking up existing points: %w", err)
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("upserting points: %w", err)
	}
	updated := len(existing)
	return len(entries) - updated, updated, nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, n int, filter Filter) ([]ScoredEntry, error) {
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

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         visibilityFilter(filter),
		Limit:          qdrant.PtrOf(uint64(n)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	results := make([]ScoredEntry, 0, len(points))
	for _, p := range points {
		e := payloadEntry(p.GetPayload())
		results = append(results, ScoredEntry{Entry: e, Distance: 1 - float64(p.GetScore())})
	}
	sortScored(results)
	return results, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.GetCollection(ctx, collection); err != nil {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(n), nil
}

// visibilityFilter matches public points and, for a known user, that user's
// private points.
func visibilityFilter(f Filter) *qdrant.Filter {
	should := []*qdrant.Condition{qdrant.NewMatch(chunk.KeyAccess, "public")}
	if f.UserID != "" {
		should = append(should, qdrant.NewMatch(chunk.KeyUserID, f.UserID))
	}
	return &qdrant.Filter{Should: should}
}

func entryPayload(e Entry) (map[string]*qdrant.Value, error) {
	m := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		m[k] = v
	}
	m[payloadChunkID] = e.ID
	m[payloadText] = e.Text
	return qdrant.TryValueMap(m)
}

func payloadEntry(payload map[string]*qdrant.Value) Entry {
	e := Entry{Metadata: chunk.Metadata{}}
	for k, v := range payload {
		switch k {
		case payloadChunkID:
			e.ID = v.GetStringValue()
		case payloadText:
			e.Text = v.GetStringValue()
		default:
			if s, ok := scalarValue(v); ok {
				e.Metadata[k] = s
			}
		}
	}
	return e
}

// scalarValue converts a payload value back to the scalar types metadata uses.
func scalarValue(v *qdrant.Value) (any, bool) {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue, true
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue, true
	case *qdrant.Value_IntegerValue:
		return float64(k.IntegerValue), true
	case *qdrant.Value_BoolValue:
		return k.BoolValue, true
	}
	return nil, false
}

// Package qdrant is a VectorIndex backed by a Qdrant collection reached over
// gRPC. The collection uses cosine distance and is created on first use.
package qdrant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore"
)

const (
	payloadID     = "id"
	payloadText   = "text"
	payloadSeq    = "sequence_index"
	payloadTime   = "indexed_at"
	scrollPage    = 256
	defaultPort   = 6334
	deleteTimeout = 30 * time.Second
)

type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

type Storage struct {
	conn        *grpc.ClientConn
	collections qc.CollectionsClient
	points      qc.PointsClient
	collection  string
	dimension   int
}

// NewStorage connects to Qdrant and makes sure the collection exists.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Collection == "" {
		return nil, &domain.ConfigurationError{Field: "vector_store.qdrant.collection", Reason: "must not be empty"}
	}
	if cfg.Dimension <= 0 {
		return nil, &domain.ConfigurationError{Field: "vector_store.dimension", Reason: fmt.Sprintf("must be positive, got %d", cfg.Dimension)}
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), opts...)
	if err != nil {
		return nil, &domain.IndexError{Op: "connect", Err: err}
	}
	s := &Storage{
		conn:        conn,
		collections: qc.NewCollectionsClient(conn),
		points:      qc.NewPointsClient(conn),
		collection:  cfg.Collection,
		dimension:   cfg.Dimension,
	}
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, &domain.IndexError{Op: "connect", Err: err}
	}
	return s, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, opts...)
	}
}

func (s *Storage) ensureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &qc.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}
	return s.createCollection(ctx)
}

func (s *Storage) createCollection(ctx context.Context) error {
	_, err := s.collections.Create(ctx, &qc.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	return nil
}

// pointID maps an index id onto a Qdrant point id. UUIDs pass through,
// anything else is hashed into a name-based UUID.
func pointID(id string) *qc.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qc.NewIDUUID(u.String())
	}
	return qc.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

func (s *Storage) Insert(ctx context.Context, batch []domain.IndexedVector) ([]string, error) {
	prepared, err := vectorstore.PrepareBatch(batch, s.dimension)
	if err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	if len(prepared) == 0 {
		return []string{}, nil
	}
	ids := make([]*qc.PointId, len(prepared))
	points := make([]*qc.PointStruct, len(prepared))
	for i, v := range prepared {
		ids[i] = pointID(v.ID)
		points[i] = &qc.PointStruct{
			Id:      ids[i],
			Vectors: qc.NewVectors(toFloat32(v.Vector)...),
			Payload: toPayload(v),
		}
	}
	existing, err := s.points.Get(ctx, &qc.GetPoints{CollectionName: s.collection, Ids: ids})
	if err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	if found := existing.GetResult(); len(found) > 0 {
		return nil, &domain.IndexError{Op: "insert", Err: fmt.Errorf("%w: %s", vectorstore.ErrDuplicateID, found[0].GetPayload()[payloadID].GetStringValue())}
	}
	_, err = s.points.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qc.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return nil, &domain.IndexError{Op: "insert", Err: err}
	}
	return vectorstore.IDs(prepared), nil
}

func (s *Storage) Query(ctx context.Context, vector []float64, topK int, filter *domain.Filter) ([]domain.RetrievalResult, error) {
	if err := vectorstore.CheckQuery(vector, s.dimension, filter); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	if filter != nil && len(filter.Values) == 0 {
		return []domain.RetrievalResult{}, nil
	}
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	resp, err := s.points.Search(ctx, &qc.SearchPoints{
		CollectionName: s.collection,
		Vector:         toFloat32(vector),
		Filter:         toFilter(filter),
		Limit:          uint64(topK),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	out := make([]domain.RetrievalResult, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		e := fromPayload(p.GetPayload())
		out = append(out, domain.RetrievalResult{
			ID:       e.ID,
			Content:  e.Text,
			Metadata: e.Metadata,
			Score:    vectorstore.Score(float64(p.GetScore())),
		})
	}
	return out, nil
}

func (s *Storage) DeleteBySource(ctx context.Context, sourcePath string) error {
	_, err := s.points.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.collection,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelectorFilter(toFilter(domain.Eq(domain.FieldSourcePath, sourcePath))),
	})
	if err != nil {
		return &domain.IndexError{Op: "delete", Err: err}
	}
	return nil
}

// Clear drops the collection and creates it again empty.
func (s *Storage) Clear(ctx context.Context) error {
	_, err := s.collections.Delete(ctx, &qc.DeleteCollection{
		CollectionName: s.collection,
		Timeout:        qc.PtrOf(uint64(deleteTimeout / time.Second)),
	})
	if err != nil {
		return &domain.IndexError{Op: "clear", Err: err}
	}
	if err := s.createCollection(ctx); err != nil {
		return &domain.IndexError{Op: "clear", Err: err}
	}
	return nil
}

// Stats counts points exactly and scrolls source paths to count distinct sources.
func (s *Storage) Stats(ctx context.Context) (domain.Stats, error) {
	count, err := s.points.Count(ctx, &qc.CountPoints{CollectionName: s.collection, Exact: qc.PtrOf(true)})
	if err != nil {
		return domain.Stats{}, &domain.IndexError{Op: "stats", Err: err}
	}
	sources := make(map[string]struct{})
	var offset *qc.PointId
	for {
		page, err := s.points.Scroll(ctx, &qc.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          qc.PtrOf(uint32(scrollPage)),
			WithPayload: &qc.WithPayloadSelector{
				SelectorOptions: &qc.WithPayloadSelector_Include{
					Include: &qc.PayloadIncludeSelector{Fields: []string{domain.FieldSourcePath}},
				},
			},
		})
		if err != nil {
			return domain.Stats{}, &domain.IndexError{Op: "stats", Err: err}
		}
		for _, p := range page.GetResult() {
			sources[p.GetPayload()[domain.FieldSourcePath].GetStringValue()] = struct{}{}
		}
		offset = page.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	return domain.Stats{TotalChunks: int(count.GetResult().GetCount()), TotalSources: len(sources)}, nil
}

func (s *Storage) Close() error {
	if s.conn == nil {
		return errors.New("qdrant: not connected")
	}
	return s.conn.Close()
}

func toFilter(f *domain.Filter) *qc.Filter {
	if f == nil {
		return nil
	}
	var cond *qc.Condition
	switch f.Op {
	case domain.OpEq:
		cond = qc.NewMatch(f.Field, f.Values[0])
	case domain.OpIn:
		cond = qc.NewMatchKeywords(f.Field, f.Values...)
	}
	return &qc.Filter{Must: []*qc.Condition{cond}}
}

func toPayload(v domain.IndexedVector) map[string]*qc.Value {
	m := v.Metadata
	return qc.NewValueMap(map[string]any{
		payloadID:               v.ID,
		payloadText:             v.Text,
		payloadSeq:              int64(m.ChunkIndex),
		payloadTime:             m.IndexedAt.UTC().Format(time.RFC3339Nano),
		domain.FieldSourcePath:  m.SourcePath,
		domain.FieldSourceType:  m.SourceType,
		domain.FieldFilename:    m.Filename,
		domain.FieldFingerprint: m.Fingerprint,
	})
}

func fromPayload(p map[string]*qc.Value) domain.IndexedVector {
	at, _ := time.Parse(time.RFC3339Nano, p[payloadTime].GetStringValue())
	return domain.IndexedVector{
		ID:   p[payloadID].GetStringValue(),
		Text: p[payloadText].GetStringValue(),
		Metadata: domain.Metadata{
			SourcePath:  p[domain.FieldSourcePath].GetStringValue(),
			SourceType:  p[domain.FieldSourceType].GetStringValue(),
			Filename:    p[domain.FieldFilename].GetStringValue(),
			ChunkIndex:  int(p[payloadSeq].GetIntegerValue()),
			IndexedAt:   at,
			Fingerprint: p[domain.FieldFingerprint].GetStringValue(),
		},
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

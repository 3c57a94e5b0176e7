// Package qdrant stores one summary embedding per conversation in a Qdrant
// collection reached over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload keys.
const (
	keyExternalID = "external_id"
	keySummary    = "summary"
	keyModel      = "model"
	keyStartedAt  = "started_at"
	keyEndedAt    = "ended_at"
)

func init() {
	registryvector.Register(registryvector.Plugin{Name: "qdrant", Loader: load})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &qdrantMigrator{}})
}

type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }

// Migrate creates the collection and its date payload indexes when missing.
func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorType != "qdrant" || !cfg.VectorMigrateAtStart {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	conn, err := connect(cfg)
	if err != nil {
		return fmt.Errorf("qdrant migrate: %w", err)
	}
	defer conn.Close()

	name := effectiveCollectionName(cfg)
	created, err := ensureCollection(ctx, conn, name, uint64(cfg.EmbeddingDimension()))
	if err != nil {
		return fmt.Errorf("qdrant migrate: %w", err)
	}
	if created {
		log.Info("Migrate: created qdrant collection", "name", name)
	}
	return nil
}

func ensureCollection(ctx context.Context, conn *grpc.ClientConn, name string, size uint64) (bool, error) {
	collections := pb.NewCollectionsClient(conn)
	if _, err := collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		return false, nil
	}

	m, ef := uint64(16), uint64(64)
	_, err := collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: size, Distance: pb.Distance_Cosine},
		}},
		HnswConfig: &pb.HnswConfigDiff{M: &m, EfConstruct: &ef},
	})
	if err != nil {
		return false, fmt.Errorf("create collection %s: %w", name, err)
	}
	points := pb.NewPointsClient(conn)
	for _, field := range []string{keyStartedAt, keyEndedAt} {
		_, err = points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeFloat.Enum(),
		})
		if err != nil {
			return false, fmt.Errorf("index %s: %w", field, err)
		}
	}
	return true, nil
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: missing config in context")
	}
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}
	return &QdrantStore{
		points:     pb.NewPointsClient(conn),
		collection: effectiveCollectionName(cfg),
	}, nil
}

// QdrantStore keeps one point per conversation, keyed by PointID.
type QdrantStore struct {
	points     pb.PointsClient
	collection string
}

func (s *QdrantStore) IsEnabled() bool { return true }
func (s *QdrantStore) Name() string    { return "qdrant" }

// Search ranks points by cosine score. A conversation is in the date range
// when its started_at..ended_at span, written by Upsert, overlaps it.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, dateRange model.DateRange, limit int, threshold float64) ([]registryvector.SimilarityMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	minScore := float32(threshold)
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    pb.NewWithPayload(true),
		ScoreThreshold: &minScore,
		Filter:         dateFilter(dateRange),
	})
	if err != nil {
		return nil, err
	}

	matches := make([]registryvector.SimilarityMatch, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		payload := pt.GetPayload()
		id := payload[keyExternalID].GetStringValue()
		if id == "" {
			log.Warn("Qdrant: point without external id", "id", pt.GetId().GetUuid())
			continue
		}
		matches = append(matches, registryvector.SimilarityMatch{
			ExternalID: id,
			Summary:    payload[keySummary].GetStringValue(),
			Score:      float64(pt.GetScore()),
		})
	}
	return matches, nil
}

func (s *QdrantStore) Upsert(ctx context.Context, entries []registryvector.UpsertRequest) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = toPoint(e)
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

func toPoint(e registryvector.UpsertRequest) *pb.PointStruct {
	payload := map[string]*pb.Value{
		keyExternalID: pb.NewValueString(e.ExternalID),
		keySummary:    pb.NewValueString(e.Summary),
		keyModel:      pb.NewValueString(e.ModelName),
	}
	if !e.StartedAt.IsZero() {
		end := e.EndedAt
		if end.Before(e.StartedAt) {
			end = e.StartedAt
		}
		payload[keyStartedAt] = pb.NewValueDouble(float64(e.StartedAt.Unix()))
		payload[keyEndedAt] = pb.NewValueDouble(float64(end.Unix()))
	}
	return &pb.PointStruct{
		Id:      pb.NewIDUUID(PointID(e.ExternalID)),
		Vectors: pb.NewVectors(e.Embedding...),
		Payload: payload,
	}
}

// dateFilter keeps conversations whose message span overlaps the half-open
// bounds of dateRange: started before the end and ended at or after the start.
func dateFilter(dateRange model.DateRange) *pb.Filter {
	from, to := dateRange.Bounds()
	if from == nil && to == nil {
		return nil
	}
	var must []*pb.Condition
	if to != nil {
		lt := float64(to.Unix())
		must = append(must, pb.NewRange(keyStartedAt, &pb.Range{Lt: &lt}))
	}
	if from != nil {
		gte := float64(from.Unix())
		must = append(must, pb.NewRange(keyEndedAt, &pb.Range{Gte: &gte}))
	}
	return &pb.Filter{Must: must}
}

// PointID derives a stable point id from the conversation's external id.
func PointID(externalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("conversation:"+externalID)).String()
}

func connect(cfg *config.Config) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if cfg.QdrantUseTLS {
		creds = credentials.NewTLS(nil)
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if key := strings.TrimSpace(cfg.QdrantAPIKey); key != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKey{key: key, tls: cfg.QdrantUseTLS}))
	}
	conn, err := grpc.NewClient(cfg.QdrantAddress(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.QdrantAddress(), err)
	}
	return conn, nil
}

type apiKey struct {
	key string
	tls bool
}

func (a apiKey) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.key}, nil
}

func (a apiKey) RequireTransportSecurity() bool { return a.tls }

// effectiveCollectionName is the configured name, or one derived from the
// embedding model so switching models never mixes dimensions.
func effectiveCollectionName(cfg *config.Config) string {
	if name := strings.TrimSpace(cfg.QdrantCollectionName); name != "" {
		return name
	}
	prefix := strings.TrimSpace(cfg.QdrantCollectionPrefix)
	if prefix == "" {
		prefix = "conversation-service"
	}
	model := strings.NewReplacer("/", "-", " ", "-", "_", "-").Replace(strings.ToLower(cfg.EmbeddingModel()))
	return fmt.Sprintf("%s_%s-%d", prefix, model, cfg.EmbeddingDimension())
}

package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// payload fields written by the ingestion pipeline
const (
	payloadDoc      = "doc"
	payloadEmployee = "employee"
	payloadContent  = "content"
)

// QdrantStore implements Store against a single shared Qdrant collection.
// Tenant isolation is enforced with a mandatory payload filter on the
// employee field; there is no code path that queries without it.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant vector store client.
// url should be in format "host:port" (e.g., "localhost:6334").
func NewQdrantStore(ctx context.Context, url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Search performs similarity search restricted to the tenant's documents.
func (s *QdrantStore) Search(ctx context.Context, tenant string, vector []float32, opts SearchOptions) ([]Hit, error) {
	// An empty allow-list is a valid terminal state, not a query.
	if opts.AllowedDocs != nil && len(opts.AllowedDocs) == 0 {
		return nil, nil
	}

	must := []*qdrant.Condition{
		qdrant.NewMatch(payloadEmployee, tenant),
	}
	if len(opts.AllowedDocs) > 0 {
		must = append(must, qdrant.NewMatchKeywords(payloadDoc, opts.AllowedDocs...))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0, len(response))
	for _, point := range response {
		hit := Hit{
			ID: point.Id.GetUuid(),
			// The collection uses cosine similarity; convert the point
			// score back to a distance so the retrieval layer owns the
			// similarity derivation.
			Distance:    1 - float64(point.Score),
			HasDistance: true,
			Metadata:    make(map[string]string),
		}

		if payload := point.Payload; payload != nil {
			if docID, ok := payload[payloadDoc]; ok {
				hit.DocumentID = payloadString(docID)
			}
			if content, ok := payload[payloadContent]; ok {
				hit.Content = content.GetStringValue()
			}
			for k, v := range payload {
				if k != payloadContent {
					hit.Metadata[k] = payloadString(v)
				}
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

// payloadString renders a payload value as a string. Ingestion writers
// are not consistent about value kinds: chunk positions in particular
// arrive as integers from some sources and strings from others.
func payloadString(v *qdrant.Value) string {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64)
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue)
	default:
		return ""
	}
}

// Ensure QdrantStore implements Store
var _ Store = (*QdrantStore)(nil)

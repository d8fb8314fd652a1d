package knowledge

import (
	"context"
	"time"

	"github.com/harun/minder/internal/observability"
	"github.com/harun/minder/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultKnowledgeBase receives queries that name no base.
const DefaultKnowledgeBase = "Body-KB"

// Service answers retrieval queries across named knowledge bases.
//
// A query fans out to each requested base in the order given; per-base
// results are concatenated into one flat list with no re-ranking across
// bases. Distances are the backend's own metric, passed through as-is.
type Service struct {
	store       *Store
	logger      zerolog.Logger
	tracer      tracing.Tracer
	defaultBase string
}

// NewService creates a retrieval service over a knowledge store.
func NewService(store *Store, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		logger:      logger,
		tracer:      tracing.NewOTel("minder.knowledge"),
		defaultBase: DefaultKnowledgeBase,
	}
}

// SetDefaultBase overrides the base used when a query names none.
func (s *Service) SetDefaultBase(base string) {
	if base != "" {
		s.defaultBase = base
	}
}

// Query runs a nearest-neighbor search against each named knowledge base
// and returns the concatenated per-base top-k matches. An empty base list
// targets the default base; topK is coerced to at least 1.
func (s *Service) Query(ctx context.Context, queryText string, bases []string, topK int) ([]Match, error) {
	ctx, span := s.tracer.StartSpan(ctx, "knowledge.query",
		attribute.String("query", queryText),
		attribute.Int("top_k", topK),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	if topK < 1 {
		topK = 1
	}
	if len(bases) == 0 {
		bases = []string{s.defaultBase}
	}

	matches := make([]Match, 0, topK*len(bases))
	for _, base := range bases {
		baseMatches, err := s.store.Query(ctx, base, queryText, topK)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		matches = append(matches, baseMatches...)
	}

	observability.RecordRetrieval(time.Since(start), len(matches))
	span.SetAttributes(attribute.Int("matches", len(matches)))

	logger.Debug().
		Str("query", queryText).
		Strs("bases", bases).
		Int("matches", len(matches)).
		Msg("Retrieval query completed")

	return matches, nil
}

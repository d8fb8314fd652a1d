package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "knowledge.db")
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	s, err := NewStore(StoreConfig{
		DBPath:            dbPath,
		Logger:            logger,
		EmbeddingProvider: NewHashProvider(32),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestNewStore_InvalidConfig(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	_, err := NewStore(StoreConfig{Logger: logger, EmbeddingProvider: NewHashProvider(32)})
	assert.Error(t, err)

	_, err = NewStore(StoreConfig{DBPath: filepath.Join(t.TempDir(), "k.db"), Logger: logger})
	assert.Error(t, err)
}

func TestAddAndQuery(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "Body-KB", Document{
		ID:   "doc-1",
		Text: "The body service exposes sensor readings.",
	}))

	matches, err := s.Query(ctx, "Body-KB", "The body service exposes sensor readings.", 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc-1", matches[0].ID)
	assert.Equal(t, "Body-KB", matches[0].KnowledgeBase)
	assert.Equal(t, "sqlite-vec", matches[0].Source)
	// Identical text hashes to an identical vector.
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-6)
}

func TestAddCollisionIsNoOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "Body-KB", Document{ID: "doc-1", Text: "original"}))
	require.NoError(t, s.Add(ctx, "Body-KB", Document{ID: "doc-1", Text: "replacement"}))

	doc, err := s.Get(ctx, "Body-KB", "doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "original", doc.Text)

	count, err := s.Count(ctx, "Body-KB")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertOverwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "Body-KB", Document{ID: "doc-1", Text: "original"}))
	require.NoError(t, s.Upsert(ctx, "Body-KB", Document{ID: "doc-1", Text: "replacement"}))

	doc, err := s.Get(ctx, "Body-KB", "doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "replacement", doc.Text)

	count, err := s.Count(ctx, "Body-KB")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertSameDocumentTwice(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := Document{ID: "doc-1", Text: "unchanged content"}
	require.NoError(t, s.Upsert(ctx, "Body-KB", doc))
	require.NoError(t, s.Upsert(ctx, "Body-KB", doc))

	count, err := s.Count(ctx, "Body-KB")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The embedding row must survive the rewrite: the document stays
	// reachable through vector search.
	matches, err := s.Query(ctx, "Body-KB", "unchanged content", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc-1", matches[0].ID)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-6)
}

func TestBasesAreIndependent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "Domain-KB", Document{ID: "shared", Text: "domain text"}))
	require.NoError(t, s.Add(ctx, "Soul-KB", Document{ID: "shared", Text: "soul text"}))

	domainDoc, err := s.Get(ctx, "Domain-KB", "shared")
	require.NoError(t, err)
	assert.Equal(t, "domain text", domainDoc.Text)

	soulDoc, err := s.Get(ctx, "Soul-KB", "shared")
	require.NoError(t, err)
	assert.Equal(t, "soul text", soulDoc.Text)
}

func TestQueryLimitsToTopK(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Add(ctx, "Body-KB", Document{ID: id, Text: "text " + id}))
	}

	matches, err := s.Query(ctx, "Body-KB", "text a", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	// topK below 1 is coerced, not rejected.
	matches, err = s.Query(ctx, "Body-KB", "text a", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSeedOnlyFillsEmptyBases(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "Domain-KB", Document{ID: "existing", Text: "already here"}))
	require.NoError(t, s.Seed(ctx, []string{"Domain-KB", "Body-KB", "Soul-KB"}))

	count, err := s.Count(ctx, "Domain-KB")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	doc, err := s.Get(ctx, "Body-KB", "seed-Body-KB")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Contains(t, doc.Text, "Seed document for Body-KB")
	assert.Equal(t, "seed", doc.Metadata["kind"])

	// Seeding twice stays idempotent.
	require.NoError(t, s.Seed(ctx, []string{"Body-KB"}))
	count, err = s.Count(ctx, "Body-KB")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPing(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestVecTableName(t *testing.T) {
	assert.Equal(t, "vec_body_kb", vecTableName("Body-KB"))
	assert.Equal(t, "vec_mind_kb", vecTableName("Mind-KB"))
	assert.Equal(t, "vec_a_b_c", vecTableName("a b;c"))
}

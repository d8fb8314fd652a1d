package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/minder/pkg/knowledge"
)

func createTestStore(t *testing.T) (*Store, *knowledge.Store) {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	ks, err := knowledge.NewStore(knowledge.StoreConfig{
		DBPath:            filepath.Join(t.TempDir(), "knowledge.db"),
		Logger:            logger,
		EmbeddingProvider: knowledge.NewHashProvider(32),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })

	return NewStore(ks, logger), ks
}

func TestRender(t *testing.T) {
	sequence := []Entry{
		{Role: "user", Content: "check disk usage"},
		{Role: "assistant", Content: `{"tool": {"name": "df", "args": {}}}`},
		{Role: "tool", Content: "87% used"},
		{Role: "assistant", Content: "Disk usage is at 87%."},
	}

	text := Render("check disk usage", sequence)
	expected := "Playbook for: check disk usage\n" +
		"---\n" +
		"Steps:\n" +
		"1) User prompt: check disk usage\n" +
		"2) Planner/Assistant: {\"tool\": {\"name\": \"df\", \"args\": {}}}\n" +
		"3) Tool returned: 87% used\n" +
		"4) Planner/Assistant: Disk usage is at 87%."
	assert.Equal(t, expected, text)
}

func TestRenderSkipsEmptyEntries(t *testing.T) {
	sequence := []Entry{
		{Role: "user", Content: "do the thing"},
		{Role: "assistant", Content: "   "},
		{Role: "tool_result", Content: "done"},
	}

	text := Render("do the thing", sequence)
	assert.Contains(t, text, "1) User prompt: do the thing")
	// The blank entry does not consume a step number.
	assert.Contains(t, text, "2) Tool returned: done")
	assert.NotContains(t, text, "Planner/Assistant")
}

func TestRenderUnknownRolePassesThrough(t *testing.T) {
	text := Render("p", []Entry{{Role: "observer", Content: "noted"}})
	assert.Contains(t, text, "1) observer: noted")

	text = Render("p", []Entry{{Role: "", Content: "noted"}})
	assert.Contains(t, text, "1) unknown: noted")
}

func TestStorePlaybookIdempotent(t *testing.T) {
	s, ks := createTestStore(t)
	ctx := context.Background()

	sequence := []Entry{
		{Role: "user", Content: "fetch the report"},
		{Role: "assistant", Content: `{"tool": {"name": "fetch", "args": {"id": 7}}}`},
		{Role: "tool", Content: "report body"},
	}

	id1, err := s.StorePlaybook(ctx, "sess-1", "fetch the report", sequence)
	require.NoError(t, err)
	id2, err := s.StorePlaybook(ctx, "sess-1", "fetch the report", sequence)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	count, err := ks.Count(ctx, KnowledgeBase)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStorePlaybookMetadata(t *testing.T) {
	s, ks := createTestStore(t)
	ctx := context.Background()

	id, err := s.StorePlaybook(ctx, "sess-9", "summarize logs", []Entry{
		{Role: "user", Content: "summarize logs"},
	})
	require.NoError(t, err)

	doc, err := ks.Get(ctx, KnowledgeBase, id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "sess-9", doc.Metadata["source_session"])
	assert.Equal(t, "summarize logs", doc.Metadata["original_prompt"])
	assert.Equal(t, "playbook", doc.Metadata["kind"])
}

func TestStorePlaybookRetrievable(t *testing.T) {
	s, ks := createTestStore(t)
	ctx := context.Background()

	_, err := s.StorePlaybook(ctx, "sess-1", "rotate the keys", []Entry{
		{Role: "user", Content: "rotate the keys"},
		{Role: "tool", Content: "keys rotated"},
	})
	require.NoError(t, err)

	text := Render("rotate the keys", []Entry{
		{Role: "user", Content: "rotate the keys"},
		{Role: "tool", Content: "keys rotated"},
	})
	matches, err := ks.Query(ctx, KnowledgeBase, text, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Mind-KB", matches[0].KnowledgeBase)
}

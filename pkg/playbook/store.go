// Package playbook records successful multi-step tool sequences into the
// reserved Mind-KB knowledge base so later runs can retrieve them.
package playbook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/harun/minder/internal/observability"
	"github.com/harun/minder/pkg/knowledge"
	"github.com/rs/zerolog"
)

// KnowledgeBase is the reserved base holding playbooks. Unlike the
// seeded bases it starts empty and only grows as tasks succeed.
const KnowledgeBase = "Mind-KB"

// Entry is one step of a playbook sequence.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store persists playbooks into the knowledge store.
type Store struct {
	store  *knowledge.Store
	logger zerolog.Logger
}

// NewStore creates a playbook store over a knowledge store.
func NewStore(store *knowledge.Store, logger zerolog.Logger) *Store {
	return &Store{store: store, logger: logger}
}

// StorePlaybook renders the sequence into dense text, derives the record
// id from a digest of that text, and upserts it into Mind-KB. The digest
// id makes the call idempotent: a byte-identical prompt and sequence
// always lands on the same document.
func (s *Store) StorePlaybook(ctx context.Context, sessionID, prompt string, sequence []Entry) (string, error) {
	text := Render(prompt, sequence)

	digest := sha256.Sum256([]byte(text))
	id := hex.EncodeToString(digest[:])

	doc := knowledge.Document{
		ID:   id,
		Text: text,
		Metadata: map[string]string{
			"source_session":  sessionID,
			"original_prompt": prompt,
			"kind":            "playbook",
		},
	}

	if err := s.store.Upsert(ctx, KnowledgeBase, doc); err != nil {
		observability.RecordPlaybookIngest("error")
		return "", fmt.Errorf("failed to store playbook: %w", err)
	}

	observability.RecordPlaybookIngest("stored")
	s.logger.Info().
		Str("playbook_id", id).
		Str("session_id", sessionID).
		Int("steps", len(sequence)).
		Msg("Playbook stored")
	return id, nil
}

// roleLabels maps sequence roles to the step labels used in rendered
// playbook text. Unknown roles pass through verbatim.
var roleLabels = map[string]string{
	"user":        "User prompt",
	"assistant":   "Planner/Assistant",
	"tool_result": "Tool returned",
}

// Render formats a playbook sequence into deterministic dense text. One
// numbered line per non-empty entry; empty-content entries are skipped
// and do not consume a step number.
func Render(prompt string, sequence []Entry) string {
	var b strings.Builder
	b.WriteString("Playbook for: " + prompt + "\n")
	b.WriteString("---\n")
	b.WriteString("Steps:")

	step := 1
	for _, entry := range sequence {
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			continue
		}

		role := strings.TrimSpace(entry.Role)
		if role == "" {
			role = "unknown"
		}
		if role == "tool" {
			role = "tool_result"
		}

		label, ok := roleLabels[role]
		if !ok {
			label = role
		}

		b.WriteString(fmt.Sprintf("\n%d) %s: %s", step, label, content))
		step++
	}

	return b.String()
}

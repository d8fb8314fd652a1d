package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/minder/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Document is a single entry in a knowledge base.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is one retrieval hit, tagged with the knowledge base it came from.
type Match struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	Distance      float64 `json:"distance"`
	KnowledgeBase string  `json:"knowledge_base"`
	Source        string  `json:"source"`
}

// matchSource identifies the storage backend in Match.Source.
const matchSource = "sqlite-vec"

// Store persists named knowledge bases as sqlite-vec collections. Each
// base owns its own vec0 virtual table; document text and metadata live
// in a shared table keyed by (base, id).
type Store struct {
	db       *sql.DB
	provider EmbeddingProvider
	logger   zerolog.Logger

	mu    sync.Mutex
	bases map[string]string // base name -> vec table name
}

// StoreConfig holds knowledge store configuration
type StoreConfig struct {
	DBPath            string
	Logger            zerolog.Logger
	EmbeddingProvider EmbeddingProvider
}

// NewStore opens (or creates) the knowledge database.
func NewStore(cfg StoreConfig) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.EmbeddingProvider == nil {
		return nil, errors.New("embedding provider is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		provider: cfg.EmbeddingProvider,
		logger:   cfg.Logger,
		bases:    make(map[string]string),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("db", cfg.DBPath).Msg("Knowledge store initialized")
	return s, nil
}

// initSchema creates the shared document table
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			base TEXT NOT NULL,
			id TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (base, id)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_base ON documents(base);
	`
	_, err := s.db.Exec(schema)
	return err
}

// vecTableName maps a base name to a safe sqlite identifier.
func vecTableName(base string) string {
	var b strings.Builder
	b.WriteString("vec_")
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnsureBase creates the vector table for a knowledge base if missing.
// Bases are created lazily on first write or query.
func (s *Store) EnsureBase(base string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("knowledge base name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if table, ok := s.bases[base]; ok {
		return table, nil
	}

	table := vecTableName(base)
	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			doc_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, table, s.provider.Dimension())

	if _, err := s.db.Exec(vectorSchema); err != nil {
		return "", fmt.Errorf("failed to create vector table for %q: %w", base, err)
	}

	s.bases[base] = table
	return table, nil
}

// Add stores a document. A colliding id is treated as a successful no-op;
// the existing document is left untouched.
func (s *Store) Add(ctx context.Context, base string, doc Document) error {
	return s.write(ctx, base, doc, false)
}

// Upsert stores a document, overwriting any existing document with the
// same id.
func (s *Store) Upsert(ctx context.Context, base string, doc Document) error {
	return s.write(ctx, base, doc, true)
}

func (s *Store) write(ctx context.Context, base string, doc Document, overwrite bool) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}

	table, err := s.EnsureBase(base)
	if err != nil {
		return err
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	embedding, err := s.provider.GenerateEmbedding(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	verb := "INSERT OR IGNORE"
	if overwrite {
		verb = "INSERT OR REPLACE"
	}

	result, err := tx.ExecContext(ctx,
		verb+" INTO documents (base, id, text, metadata, created_at) VALUES (?, ?, ?, ?, ?)",
		base, doc.ID, doc.Text, string(metadataJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	if !overwrite {
		affected, _ := result.RowsAffected()
		if affected == 0 {
			// Id collision on Add: keep the existing document.
			s.logger.Debug().Str("base", base).Str("id", doc.ID).Msg("Document already present, skipping")
			return tx.Commit()
		}
	}

	// vec0 virtual tables do not honor INSERT OR REPLACE: a colliding
	// doc_id raises a UNIQUE constraint error. Clear any existing row
	// first, then insert plainly.
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE doc_id = ?", table),
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear embedding: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (doc_id, embedding) VALUES (?, ?)", table),
		doc.ID, string(embeddingJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if count, err := s.Count(ctx, base); err == nil {
		observability.SetKnowledgeDocuments(base, count)
	}
	return nil
}

// Query returns up to topK nearest documents from one knowledge base,
// ordered by ascending distance. The distance is the backend's cosine
// distance, passed through untouched.
func (s *Store) Query(ctx context.Context, base, queryText string, topK int) ([]Match, error) {
	if topK < 1 {
		topK = 1
	}

	table, err := s.EnsureBase(base)
	if err != nil {
		return nil, err
	}

	embedding, err := s.provider.GenerateEmbedding(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT doc_id, vec_distance_cosine(embedding, ?) as distance
		FROM %s
		ORDER BY distance ASC
		LIMIT ?
	`, table)

	rows, err := s.db.QueryContext(ctx, query, string(embeddingJSON), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			ID:            id,
			Distance:      distance,
			KnowledgeBase: base,
			Source:        matchSource,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range matches {
		var text string
		err := s.db.QueryRowContext(ctx,
			"SELECT text FROM documents WHERE base = ? AND id = ?",
			base, matches[i].ID,
		).Scan(&text)
		if err != nil {
			s.logger.Warn().Err(err).Str("base", base).Str("id", matches[i].ID).Msg("Failed to fetch document text")
			continue
		}
		matches[i].Text = text
	}

	return matches, nil
}

// Get fetches a single document by id.
func (s *Store) Get(ctx context.Context, base, id string) (*Document, error) {
	var text, metadataJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT text, metadata FROM documents WHERE base = ? AND id = ?",
		base, id,
	).Scan(&text, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var metadata map[string]string
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		metadata = map[string]string{}
	}
	return &Document{ID: id, Text: text, Metadata: metadata}, nil
}

// Count returns the number of documents in a knowledge base.
func (s *Store) Count(ctx context.Context, base string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE base = ?", base,
	).Scan(&count)
	return count, err
}

// Seed guarantees each listed knowledge base holds at least one document
// so retrieval never returns an empty result purely because a collection
// was never written to.
func (s *Store) Seed(ctx context.Context, bases []string) error {
	for _, base := range bases {
		count, err := s.Count(ctx, base)
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		doc := Document{
			ID:   "seed-" + base,
			Text: fmt.Sprintf("Seed document for %s. This is initial mock knowledge.", base),
			Metadata: map[string]string{
				"knowledge_base": base,
				"kind":           "seed",
			},
		}
		if err := s.Add(ctx, base, doc); err != nil {
			return fmt.Errorf("failed to seed %q: %w", base, err)
		}
		s.logger.Info().Str("base", base).Msg("Seeded empty knowledge base")
	}
	return nil
}

// Ping verifies the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Close closes the knowledge store.
func (s *Store) Close() error {
	return s.db.Close()
}

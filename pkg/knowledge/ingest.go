package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Ingestor loads markdown documents from a seed directory into the
// knowledge store. Files directly under the directory go to the default
// base; files under a first-level subdirectory go to the base named by
// that subdirectory. Document ids are content hashes, so re-ingesting an
// unchanged file is a no-op and an edited file lands as a new document.
type Ingestor struct {
	store       *Store
	logger      zerolog.Logger
	defaultBase string
}

// NewIngestor creates a seed-document ingestor.
func NewIngestor(store *Store, defaultBase string, logger zerolog.Logger) *Ingestor {
	if defaultBase == "" {
		defaultBase = DefaultKnowledgeBase
	}
	return &Ingestor{store: store, logger: logger, defaultBase: defaultBase}
}

// IngestDir walks dir and loads every markdown file. It returns the
// number of documents written; per-file failures are logged and skipped.
func (in *Ingestor) IngestDir(ctx context.Context, dir string) (int, error) {
	ingested := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		if err := in.ingestFile(ctx, path, relPath); err != nil {
			in.logger.Warn().Err(err).Str("file", relPath).Msg("Failed to ingest seed document")
			return nil
		}
		ingested++
		return nil
	})
	if err != nil {
		return ingested, err
	}

	in.logger.Info().Str("dir", dir).Int("documents", ingested).Msg("Seed directory ingested")
	return ingested, nil
}

// IngestFile loads a single markdown file, routing it to the base implied
// by its position under root.
func (in *Ingestor) IngestFile(ctx context.Context, root, path string) error {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	return in.ingestFile(ctx, path, relPath)
}

func (in *Ingestor) ingestFile(ctx context.Context, fullPath, relPath string) error {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return err
	}

	base := in.baseFor(relPath)
	hash := sha256.Sum256(content)
	id := hex.EncodeToString(hash[:])

	doc := Document{
		ID:   id,
		Text: string(content),
		Metadata: map[string]string{
			"kind": "seed_document",
			"path": filepath.ToSlash(relPath),
		},
	}
	return in.store.Upsert(ctx, base, doc)
}

// baseFor maps a relative seed path to its target knowledge base.
func (in *Ingestor) baseFor(relPath string) string {
	parts := strings.SplitN(filepath.ToSlash(relPath), "/", 2)
	if len(parts) == 2 && parts[0] != "" {
		return parts[0]
	}
	return in.defaultBase
}

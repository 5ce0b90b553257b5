// Package catalog loads curated knowledge documents from YAML or JSON files
// into a knowledge store.
//
// A catalog file holds a top-level documents list whose entries use the
// same field names as the JSON API:
//
//	documents:
//	  - id: ser-estar-location
//	    content: Use estar for location.
//	    example: Estoy en casa.
//	    skill_tags: [ser_estar]
//	    error_types: [ser_estar_confusion]
//	    difficulty: beginner
//	    priority: 1
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

const maxCatalogSize = 32 * 1024 * 1024

// ErrEmptyCatalog is returned when a file holds no documents.
var ErrEmptyCatalog = errors.New("catalog contains no documents")

// Putter is the part of knowledge.Store an import writes to.
type Putter interface {
	Put(ctx context.Context, doc knowledge.Document) error
}

// ImportResult summarizes an Import run.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Invalid  []string `json:"invalid,omitempty"`
}

// Load reads and parses a catalog file.
func Load(path string) ([]knowledge.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	if info.Size() > maxCatalogSize {
		return nil, fmt.Errorf("catalog %s is too large (%d bytes, max %d)", path, info.Size(), maxCatalogSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog content. JSON is accepted as a subset of YAML.
func Parse(data []byte) ([]knowledge.Document, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	var docs []knowledge.Document
	if err := k.UnmarshalWithConf("documents", &docs, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decoding documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrEmptyCatalog
	}
	return docs, nil
}

// Validate checks the curated fields every document needs.
func Validate(doc *knowledge.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return knowledge.NewValidationError("id", "required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return knowledge.NewValidationError("content", "required for %s", doc.ID)
	}
	if len(doc.SkillTags) == 0 {
		return knowledge.NewValidationError("skill_tags", "at least one tag is required for %s", doc.ID)
	}
	if doc.Difficulty != "" && !doc.Difficulty.Valid() {
		return knowledge.NewValidationError("difficulty", "unknown difficulty %q for %s", doc.Difficulty, doc.ID)
	}
	return nil
}

// Import writes every valid document to store. Invalid documents are
// skipped and reported; the first store failure stops the run.
func Import(ctx context.Context, store Putter, docs []knowledge.Document, logger *zap.Logger) (*ImportResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	result := &ImportResult{}
	seen := make(map[string]bool, len(docs))

	for i := range docs {
		doc := docs[i]
		if err := Validate(&doc); err != nil {
			result.Skipped++
			result.Invalid = append(result.Invalid, err.Error())
			logger.Warn("skipping invalid document", zap.Int("index", i), zap.Error(err))
			continue
		}
		if seen[doc.ID] {
			logger.Warn("duplicate document id, later entry wins", zap.String("knowledge_id", doc.ID))
		}
		seen[doc.ID] = true

		if err := store.Put(ctx, doc); err != nil {
			return result, fmt.Errorf("storing %s: %w", doc.ID, err)
		}
		result.Imported++
	}

	logger.Info("catalog imported",
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

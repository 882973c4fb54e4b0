// Package schema stores per-collection field definitions and performs the
// advisory validation used at the edit boundary. A schema is optional
// metadata: collections are usable without one, and the store itself
// accepts arbitrary shapes.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

// Collection holding one schema document per collection, keyed by name.
const schemasCollection = "schemas"

var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// FieldID derives the stable field id from a display name.
func FieldID(name string) string {
	slug := nonAlphanumericRegex.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(slug, "_")
}

// Registry reads and replaces collection schemas through the document store.
type Registry struct {
	db database.Database
}

// NewRegistry returns a Registry backed by the given store.
func NewRegistry(db database.Database) *Registry {
	return &Registry{db: db}
}

// Get returns the schema for the collection, or nil when none is defined.
func (r *Registry) Get(ctx context.Context, collection string) (*models.Schema, error) {
	doc, err := r.db.Get(ctx, schemasCollection, collection)
	if err != nil {
		return nil, fmt.Errorf("get schema for %q: %w", collection, err)
	}
	if doc == nil {
		return nil, nil
	}

	fields, err := parseFields(doc.Field("fields"))
	if err != nil {
		return nil, fmt.Errorf("schema for %q: %w", collection, err)
	}
	return &models.Schema{
		Collection: collection,
		Fields:     fields,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

// Set replaces the collection's schema wholesale, last-writer-wins. Field
// ids are derived from names and must be unique; order is preserved.
func (r *Registry) Set(ctx context.Context, collection string, fields []models.FieldDef) (*models.Schema, error) {
	seen := map[string]struct{}{}
	stored := make([]any, 0, len(fields))
	normalized := make([]models.FieldDef, 0, len(fields))

	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: name must not be empty", i)
		}
		if !models.KnownFieldType(f.Type) {
			return nil, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		if f.ID == "" {
			f.ID = FieldID(f.Name)
		}
		if _, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("field %q: duplicate id %q", f.Name, f.ID)
		}
		seen[f.ID] = struct{}{}

		normalized = append(normalized, f)
		stored = append(stored, map[string]any{
			"id":       f.ID,
			"name":     f.Name,
			"type":     string(f.Type),
			"required": f.Required,
		})
	}

	doc, err := r.db.Set(ctx, schemasCollection, collection, map[string]any{"fields": stored})
	if err != nil {
		return nil, fmt.Errorf("set schema for %q: %w", collection, err)
	}
	return &models.Schema{
		Collection: collection,
		Fields:     normalized,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

// parseFields rebuilds field definitions from the stored document value.
func parseFields(v any) ([]models.FieldDef, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("malformed fields value %T", v)
	}

	fields := make([]models.FieldDef, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("malformed field entry %d: %T", i, item)
		}
		f := models.FieldDef{Required: m["required"] == true}
		f.ID, _ = m["id"].(string)
		f.Name, _ = m["name"].(string)
		if t, ok := m["type"].(string); ok {
			f.Type = models.FieldType(t)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

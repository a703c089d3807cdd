package bitable

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

// defaultDatePattern is applied when a date/time column carries no explicit
// display format of its own.
const defaultDatePattern = "yyyy/MM/dd HH:mm"

// Schema is the cached table layout for one tenant: name to id resolution
// plus the per-table formatting hints. Built once per reload, read-only after.
type Schema struct {
	tables map[string]model.TableSchema
}

// BuildSchema walks the tenant's tables and classifies their fields. A tenant
// whose listing fails still gets a usable empty schema; lookups against it
// fail per table, and the next reload retries.
func BuildSchema(ctx context.Context, client *Client) *Schema {
	s := &Schema{tables: make(map[string]model.TableSchema)}

	tables, err := client.ListTables(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Table listing failed, serving empty schema until next reload")
		return s
	}

	for name, id := range tables {
		entry := model.TableSchema{TableName: name, TableID: id}

		fields, err := client.ListFields(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("table", name).Msg("Field listing failed, table kept without formatting hints")
			s.tables[name] = entry
			continue
		}

		for _, f := range fields {
			switch f.UIType {
			case "DateTime", "CreatedTime", "ModifiedTime":
				if entry.TimeFields == nil {
					entry.TimeFields = make(map[string]string)
				}
				pattern := f.Property.DateFormatter
				if pattern == "" {
					pattern = defaultDatePattern
				}
				entry.TimeFields[f.FieldName] = pattern
			case "Attachment":
				entry.AttachmentFields = append(entry.AttachmentFields, f.FieldName)
			}
		}
		s.tables[name] = entry
	}

	return s
}

// NewSchema wraps an already-built table map, used when restoring a schema
// from the cache store.
func NewSchema(tables map[string]model.TableSchema) *Schema {
	if tables == nil {
		tables = make(map[string]model.TableSchema)
	}
	return &Schema{tables: tables}
}

// Resolve maps a table display name to its remote id.
func (s *Schema) Resolve(name string) (string, error) {
	entry, ok := s.tables[name]
	if !ok {
		return "", fmt.Errorf("table %q: %w", name, ErrUnknownTable)
	}
	return entry.TableID, nil
}

// Entry returns the full cached schema for a table name.
func (s *Schema) Entry(name string) (model.TableSchema, error) {
	entry, ok := s.tables[name]
	if !ok {
		return model.TableSchema{}, fmt.Errorf("table %q: %w", name, ErrUnknownTable)
	}
	return entry, nil
}

// Tables returns the table map, keyed by display name.
func (s *Schema) Tables() map[string]model.TableSchema {
	return s.tables
}

// Len reports how many tables the schema covers.
func (s *Schema) Len() int {
	return len(s.tables)
}

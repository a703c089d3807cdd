package format

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/model"
)

// AttachmentPathPrefix is the local route that proxies attachment downloads,
// substituted for remote file references in served records.
const AttachmentPathPrefix = "/api/v1/img/"

// Formatter rewrites raw remote records for serving: epoch fields become
// display strings, attachment fields become local proxy paths. The display
// zone is fixed at construction.
type Formatter struct {
	loc *time.Location
}

// NewFormatter builds a Formatter rendering in the remote service's display
// zone, UTC+8.
func NewFormatter() *Formatter {
	return &Formatter{loc: time.FixedZone("UTC+8", 8*3600)}
}

// NewFormatterIn builds a Formatter rendering in an explicit zone.
func NewFormatterIn(loc *time.Location) *Formatter {
	return &Formatter{loc: loc}
}

// FormatRecord rewrites the fields of one record according to the table's
// schema. Tables with nothing to rewrite get the input map back unchanged;
// otherwise a shallow copy is returned and the input is never mutated.
func (f *Formatter) FormatRecord(fields map[string]any, schema model.TableSchema) map[string]any {
	if fields == nil || !schema.HasFormatting() {
		return fields
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	for field, pattern := range schema.TimeFields {
		raw, ok := out[field]
		if !ok || raw == nil {
			continue
		}
		formatted, err := FormatTimestamp(raw, pattern, f.loc)
		if err != nil {
			log.Debug().Err(err).Str("field", field).Msg("Keeping raw timestamp value")
			continue
		}
		out[field] = formatted
	}

	for _, field := range schema.AttachmentFields {
		raw, ok := out[field]
		if !ok || raw == nil {
			continue
		}
		out[field] = rewriteAttachments(raw)
	}

	return out
}

// rewriteAttachments converts a remote attachment list into local proxy
// paths. Anything that does not look like an attachment list collapses to an
// empty list rather than leaking remote URLs.
func rewriteAttachments(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return []string{}
	}

	paths := make([]string, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		token, ok := entry["file_token"].(string)
		if !ok || token == "" {
			continue
		}
		paths = append(paths, AttachmentPathPrefix+token)
	}
	return paths
}

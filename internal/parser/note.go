package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/storage"
)

// knownKeys are frontmatter keys mapped onto NoteRecord fields; anything
// else is kept in Custom.
var knownKeys = map[string]struct{}{
	"id": {}, "title": {}, "desc": {}, "created": {}, "updated": {},
	"tags": {}, "custom": {}, "schema": {},
}

// ParseNote builds a NoteRecord from a listed file. The hierarchical name is
// the vault-relative path without ".md", with "/" turned into ".". A missing
// frontmatter id gets a fresh UUID.
func ParseNote(entry storage.Entry, data []byte, v models.Vault) (*models.NoteRecord, error) {
	res, err := ParseStrict(data)
	if err != nil {
		return nil, fmt.Errorf("parser: %s: %w", entry.RelPath, err)
	}
	fm := res.Frontmatter

	fname := Fname(entry.RelPath)
	if fname == "" {
		return nil, fmt.Errorf("parser: %s: empty note name", entry.RelPath)
	}

	id := scalarString(fm["id"])
	if id == "" {
		id = uuid.NewString()
	}

	title := res.Title
	if title == "" {
		title = models.LastSegment(fname)
	}

	created, err := timeField(fm, "created", entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parser: %s: %w", entry.RelPath, err)
	}
	updated, err := timeField(fm, "updated", entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parser: %s: %w", entry.RelPath, err)
	}

	ref, err := schemaRef(fm["schema"])
	if err != nil {
		return nil, fmt.Errorf("parser: %s: %w", entry.RelPath, err)
	}

	checksum := entry.Checksum
	if checksum == "" {
		checksum = storage.Checksum(data)
	}

	return &models.NoteRecord{
		ID:       id,
		Fname:    fname,
		Title:    title,
		Desc:     scalarString(fm["desc"]),
		Vault:    v,
		Created:  created,
		Updated:  updated,
		Body:     res.Body,
		Tags:     res.Tags,
		Links:    collectLinks(res.Links, res.Body),
		Schema:   ref,
		Custom:   custom(fm),
		Checksum: checksum,
		Path:     entry.Path,
	}, nil
}

// Fname converts a vault-relative note path into its hierarchical name.
func Fname(relPath string) string {
	name := strings.TrimSuffix(relPath, ".md")
	name = strings.ReplaceAll(name, "/", ".")
	return strings.Trim(name, ".")
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// timeField reads created/updated, accepting epoch milliseconds, RFC 3339
// strings, plain dates and YAML timestamps.
func timeField(fm map[string]any, key string, fallback time.Time) (time.Time, error) {
	raw, ok := fm[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	case string:
		s := strings.TrimSpace(v)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("bad %s timestamp %q", key, s)
	}
	return time.Time{}, fmt.Errorf("bad %s timestamp of type %T", key, raw)
}

// schemaRef accepts either {moduleId, schemaId} or "module:schema"; a bare
// "module" refers to the module's root schema.
func schemaRef(raw any) (*models.SchemaRef, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		module, schemaID, found := strings.Cut(s, ":")
		if !found {
			schemaID = module
		}
		if module == "" || schemaID == "" {
			return nil, fmt.Errorf("bad schema reference %q", s)
		}
		return &models.SchemaRef{ModuleID: module, SchemaID: schemaID}, nil
	case map[string]any:
		ref := &models.SchemaRef{
			ModuleID: scalarString(v["moduleId"]),
			SchemaID: scalarString(v["schemaId"]),
		}
		if ref.ModuleID == "" {
			return nil, fmt.Errorf("schema reference without moduleId")
		}
		if ref.SchemaID == "" {
			ref.SchemaID = ref.ModuleID
		}
		return ref, nil
	}
	return nil, fmt.Errorf("bad schema reference of type %T", raw)
}

// custom merges the "custom" frontmatter map with any unrecognised keys.
func custom(fm map[string]any) map[string]any {
	out := make(map[string]any)
	if m, ok := fm["custom"].(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range fm {
		if _, known := knownKeys[k]; !known {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

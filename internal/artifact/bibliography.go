package artifact

import "encoding/json"

// Bibliography accumulates citation entries across tool results,
// union-deduplicating by stable key.
type Bibliography struct {
	entries []map[string]any
	seen    map[string]bool
}

// NewBibliography returns an empty accumulator.
func NewBibliography() *Bibliography {
	return &Bibliography{seen: make(map[string]bool)}
}

// Add folds new entries in, dropping duplicates. The stable key is the
// first present of pmid, doi, id, url; entries without any of those are
// keyed by their full serialized form.
func (b *Bibliography) Add(entries []map[string]any) {
	for _, entry := range entries {
		key := entryKey(entry)
		if b.seen[key] {
			continue
		}
		b.seen[key] = true
		b.entries = append(b.entries, entry)
	}
}

// Len reports the number of distinct entries.
func (b *Bibliography) Len() int { return len(b.entries) }

// Entries returns the accumulated entries in insertion order.
func (b *Bibliography) Entries() []map[string]any { return b.entries }

// MarshalContent serializes the bibliography as a JSON array.
func (b *Bibliography) MarshalContent() (string, error) {
	data, err := json.Marshal(b.entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func entryKey(entry map[string]any) string {
	for _, field := range []string{"pmid", "PMID", "doi", "DOI", "id", "url"} {
		if v, ok := entry[field].(string); ok && v != "" {
			return field + ":" + v
		}
		// Numeric PMIDs arrive as float64 after JSON decoding.
		if v, ok := entry[field].(float64); ok {
			data, _ := json.Marshal(v)
			return field + ":" + string(data)
		}
	}
	data, _ := json.Marshal(entry)
	return "raw:" + string(data)
}

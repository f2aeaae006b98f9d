// Package artifact holds the typed output model of a thinking run: the
// closed artifact kind set, the canonical StoreFormat reply, knowledge-graph
// and bibliography accumulation, and the final aggregation step.
package artifact

import (
	"strings"

	"github.com/google/uuid"
)

// Canonical artifact kinds. NormalizeKind maps every known alias onto this
// closed set.
const (
	KindMarkdown     = "text/markdown"
	KindCode         = "code"
	KindKnowledge    = "knowledge-graph"
	KindBibliography = "bibliography"
	KindHTML         = "html"
	KindSVG          = "svg"
	KindMermaid      = "mermaid"
	KindReact        = "react"
	KindBinary       = "binary"
)

// Artifact is a typed, addressable output segment produced by a tool or by
// the final formatter.
type Artifact struct {
	ID       string         `json:"id"`
	Kind     string         `json:"type"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Language string         `json:"language,omitempty"`
	Position int            `json:"position"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewID returns a fresh random artifact identifier.
func NewID() string {
	return uuid.NewString()
}

// kindAliases maps every known raw kind label onto the canonical set.
// image/* and code/* prefixes are handled in NormalizeKind.
var kindAliases = map[string]string{
	"text/markdown":                       KindMarkdown,
	"markdown":                            KindMarkdown,
	"text":                                KindMarkdown,
	"text/plain":                          KindMarkdown,
	"code":                                KindCode,
	"application/vnd.ant.code":            KindCode,
	"knowledge-graph":                     KindKnowledge,
	"graph":                               KindKnowledge,
	"knowledge_graph":                     KindKnowledge,
	"application/vnd.knowledge-graph":     KindKnowledge,
	"application/vnd.ant.knowledge-graph": KindKnowledge,
	"bibliography":                        KindBibliography,
	"application/vnd.bibliography":        KindBibliography,
	"html":                                KindHTML,
	"text/html":                           KindHTML,
	"svg":                                 KindSVG,
	"image/svg+xml":                       KindSVG,
	"mermaid":                             KindMermaid,
	"application/vnd.ant.mermaid":         KindMermaid,
	"react":                               KindReact,
	"application/vnd.ant.react":           KindReact,
	"binary":                              KindBinary,
	"application/octet-stream":            KindBinary,
}

// NormalizeKind maps a raw kind label onto the canonical closed set.
// Unknown or empty labels become text/markdown. Idempotent:
// NormalizeKind(NormalizeKind(k)) == NormalizeKind(k).
func NormalizeKind(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	if k == "" {
		return KindMarkdown
	}
	if canonical, ok := kindAliases[k]; ok {
		return canonical
	}
	if strings.HasPrefix(k, "image/") {
		return k
	}
	if strings.HasPrefix(k, "code/") {
		return KindCode
	}
	return KindMarkdown
}

// ProcessBinary converts a base64 binary output into an artifact. The kind
// is the reported media type; originating metadata is retained.
func ProcessBinary(data, mediaType string, metadata map[string]any) Artifact {
	kind := NormalizeKind(mediaType)
	title := "Binary output"
	if strings.HasPrefix(kind, "image/") {
		title = "Generated image"
	}
	if t, ok := metadata["title"].(string); ok && t != "" {
		title = t
	}
	return Artifact{
		ID:       NewID(),
		Kind:     kind,
		Title:    title,
		Content:  data,
		Metadata: metadata,
	}
}

package artifact

import (
	"fmt"
	"log"
)

// Collector gathers the side channels of a thinking run: bibliography
// entries, knowledge-graph fragments, direct tool artifacts and binary
// outputs. One Collector lives per request.
type Collector struct {
	bib    *Bibliography
	graph  *KnowledgeGraph
	direct []Artifact
	binary []Artifact
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		bib:   NewBibliography(),
		graph: NewKnowledgeGraph(),
	}
}

// AddBibliography folds entries into the deduplicated bibliography.
func (c *Collector) AddBibliography(entries []map[string]any) {
	c.bib.Add(entries)
}

// Bibliography exposes the accumulated bibliography.
func (c *Collector) Bibliography() *Bibliography { return c.bib }

// Graph exposes the running knowledge graph.
func (c *Collector) Graph() *KnowledgeGraph { return c.graph }

// MergeGraphContent parses a knowledge-graph artifact body and merges it
// into the running graph.
func (c *Collector) MergeGraphContent(content string) error {
	g, err := ParseGraph(content)
	if err != nil {
		return err
	}
	c.graph.Merge(g)
	return nil
}

// AddRaw normalizes a tool-emitted artifact object. Knowledge-graph
// artifacts are routed into the running graph; everything else is kept as
// a direct artifact in encounter order.
func (c *Collector) AddRaw(raw map[string]any) {
	kind := NormalizeKind(stringField(raw, "type"))

	content := stringField(raw, "content")
	if kind == KindKnowledge {
		if err := c.MergeGraphContent(content); err != nil {
			log.Printf("[Artifact] Unparsable knowledge graph dropped: %v", err)
		}
		return
	}

	title := stringField(raw, "title")
	if title == "" {
		title = fmt.Sprintf("Tool output (%s)", kind)
	}
	c.direct = append(c.direct, Artifact{
		ID:       NewID(),
		Kind:     kind,
		Title:    title,
		Content:  content,
		Language: stringField(raw, "language"),
	})
}

// AddBinary converts a binary output and queues it for attachment.
func (c *Collector) AddBinary(data, mediaType string, metadata map[string]any) {
	c.binary = append(c.binary, ProcessBinary(data, mediaType, metadata))
}

// Attach appends the accumulated side channels to the finalized reply:
// bibliography first, then the merged knowledge graph (at most once), then
// direct artifacts, then binary outputs. Each appended artifact gets an
// "artifact" segment pointing at it; positions are reassigned over the
// whole list so insertion order is preserved.
func (c *Collector) Attach(store *StoreFormat) {
	if c.bib.Len() > 0 {
		if content, err := c.bib.MarshalContent(); err == nil {
			c.append(store, Artifact{
				ID:      NewID(),
				Kind:    KindBibliography,
				Title:   "Bibliography",
				Content: content,
			}, fmt.Sprintf("%d reference(s)", c.bib.Len()))
		} else {
			log.Printf("[Artifact] Bibliography marshal failed: %v", err)
		}
	}

	if !c.graph.Empty() {
		if content, err := c.graph.MarshalContent(); err == nil {
			c.append(store, Artifact{
				ID:      NewID(),
				Kind:    KindKnowledge,
				Title:   "Knowledge Graph",
				Content: content,
			}, fmt.Sprintf("%d node(s), %d edge(s)", len(c.graph.Nodes), len(c.graph.Edges)))
		} else {
			log.Printf("[Artifact] Knowledge graph marshal failed: %v", err)
		}
	}

	for _, a := range c.direct {
		c.append(store, a, a.Title)
	}
	for _, a := range c.binary {
		c.append(store, a, a.Title)
	}

	for i := range store.Artifacts {
		store.Artifacts[i].Position = i
	}
}

func (c *Collector) append(store *StoreFormat, a Artifact, summary string) {
	store.Artifacts = append(store.Artifacts, a)
	store.Conversation = append(store.Conversation, Segment{
		Type:       "artifact",
		ArtifactID: a.ID,
		Summary:    summary,
	})
}

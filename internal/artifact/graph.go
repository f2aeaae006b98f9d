package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Node is one knowledge-graph node. Attributes hold every field beyond the
// id as parsed from the source artifact.
type Node struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"-"`
}

// Edge is one knowledge-graph edge, keyed by (source, target, label).
type Edge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Label    string   `json:"label"`
	Evidence []string `json:"evidence,omitempty"`
}

// KnowledgeGraph accumulates nodes and edges across tool results. Merging
// is set-union on both maps: node attributes keep the first value seen,
// edge evidence arrays union-deduplicate. Merge is commutative up to
// first-wins attributes, associative, and idempotent.
type KnowledgeGraph struct {
	Nodes    map[string]Node
	Edges    map[string]Edge
	Metadata map[string]any
}

// NewKnowledgeGraph returns an empty graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		Nodes: make(map[string]Node),
		Edges: make(map[string]Edge),
	}
}

// EdgeKey builds the canonical dedup key for an edge.
func EdgeKey(source, target, label string) string {
	return source + "\x1f" + target + "\x1f" + label
}

// Empty reports whether the graph holds no nodes and no edges.
func (g *KnowledgeGraph) Empty() bool {
	return len(g.Nodes) == 0 && len(g.Edges) == 0
}

// Merge folds other into g.
func (g *KnowledgeGraph) Merge(other *KnowledgeGraph) {
	if other == nil {
		return
	}
	for id, node := range other.Nodes {
		if _, exists := g.Nodes[id]; !exists {
			g.Nodes[id] = node
		}
	}
	for key, edge := range other.Edges {
		existing, exists := g.Edges[key]
		if !exists {
			g.Edges[key] = edge
			continue
		}
		existing.Evidence = unionStrings(existing.Evidence, edge.Evidence)
		g.Edges[key] = existing
	}
	if g.Metadata == nil && other.Metadata != nil {
		g.Metadata = other.Metadata
	}
}

// graphJSON is the serialized wire shape: nodes and edges as arrays.
// "links" is accepted as an alias for "edges" on input.
type graphJSON struct {
	Nodes    []map[string]any `json:"nodes"`
	Edges    []map[string]any `json:"edges,omitempty"`
	Links    []map[string]any `json:"links,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// ParseGraph decodes a knowledge-graph artifact content string.
func ParseGraph(content string) (*KnowledgeGraph, error) {
	var raw graphJSON
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("artifact: parse knowledge graph: %w", err)
	}

	g := NewKnowledgeGraph()
	g.Metadata = raw.Metadata

	for _, n := range raw.Nodes {
		id := stringField(n, "id")
		if id == "" {
			continue
		}
		attrs := make(map[string]any, len(n))
		for k, v := range n {
			if k != "id" {
				attrs[k] = v
			}
		}
		if _, exists := g.Nodes[id]; !exists {
			g.Nodes[id] = Node{ID: id, Attributes: attrs}
		}
	}

	edges := raw.Edges
	if len(edges) == 0 {
		edges = raw.Links
	}
	for _, e := range edges {
		source := stringField(e, "source")
		target := stringField(e, "target")
		label := stringField(e, "label")
		if label == "" {
			label = stringField(e, "relationship")
		}
		if source == "" || target == "" {
			continue
		}
		edge := Edge{Source: source, Target: target, Label: label}
		if ev, ok := e["evidence"].([]any); ok {
			for _, item := range ev {
				if s, ok := item.(string); ok {
					edge.Evidence = append(edge.Evidence, s)
				}
			}
		}
		key := EdgeKey(source, target, label)
		if existing, exists := g.Edges[key]; exists {
			existing.Evidence = unionStrings(existing.Evidence, edge.Evidence)
			g.Edges[key] = existing
		} else {
			g.Edges[key] = edge
		}
	}
	return g, nil
}

// MarshalContent serializes the graph back into artifact content, with
// nodes and edges in deterministic key order.
func (g *KnowledgeGraph) MarshalContent() (string, error) {
	nodeIDs := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	nodes := make([]map[string]any, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		node := g.Nodes[id]
		out := make(map[string]any, len(node.Attributes)+1)
		for k, v := range node.Attributes {
			out[k] = v
		}
		out["id"] = id
		nodes = append(nodes, out)
	}

	edgeKeys := make([]string, 0, len(g.Edges))
	for key := range g.Edges {
		edgeKeys = append(edgeKeys, key)
	}
	sort.Strings(edgeKeys)

	edges := make([]map[string]any, 0, len(edgeKeys))
	for _, key := range edgeKeys {
		edge := g.Edges[key]
		out := map[string]any{
			"source": edge.Source,
			"target": edge.Target,
			"label":  edge.Label,
		}
		if len(edge.Evidence) > 0 {
			out["evidence"] = edge.Evidence
		}
		edges = append(edges, out)
	}

	payload := graphJSON{Nodes: nodes, Edges: edges, Metadata: g.Metadata}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("artifact: marshal knowledge graph: %w", err)
	}
	return string(data), nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := a
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

package artifact

// Segment is one ordered element of the final conversation: either a text
// run or a reference to an artifact.
type Segment struct {
	Type       string `json:"type"` // "text" | "artifact"
	Content    string `json:"content,omitempty"`
	ArtifactID string `json:"artifactId,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// StoreFormat is the canonical final reply shape. Conversation is never
// empty and never a bare string; every ArtifactID referenced by a segment
// resolves to an entry in Artifacts.
type StoreFormat struct {
	Thinking     string     `json:"thinking,omitempty"`
	Conversation []Segment  `json:"conversation"`
	Artifacts    []Artifact `json:"artifacts,omitempty"`
}

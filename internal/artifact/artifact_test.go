package artifact

import (
	"strings"
	"testing"
)

func TestNormalizeKind_Aliases(t *testing.T) {
	cases := map[string]string{
		"text/markdown":            KindMarkdown,
		"markdown":                 KindMarkdown,
		"TEXT":                     KindMarkdown,
		"application/vnd.ant.code": KindCode,
		"code/python":              KindCode,
		"graph":                    KindKnowledge,
		"knowledge_graph":          KindKnowledge,
		"image/svg+xml":            KindSVG,
		"image/png":                "image/png",
		"application/octet-stream": KindBinary,
		"":                         KindMarkdown,
		"something-unknown":        KindMarkdown,
	}
	for in, want := range cases {
		if got := NormalizeKind(in); got != want {
			t.Errorf("NormalizeKind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeKind_Idempotent(t *testing.T) {
	inputs := []string{"markdown", "graph", "image/png", "code/go", "unknown", ""}
	for _, in := range inputs {
		once := NormalizeKind(in)
		if twice := NormalizeKind(once); twice != once {
			t.Errorf("NormalizeKind not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestProcessBinary_ImageTitle(t *testing.T) {
	a := ProcessBinary("aGVsbG8=", "image/png", nil)
	if a.Kind != "image/png" {
		t.Errorf("Kind = %q", a.Kind)
	}
	if a.Title != "Generated image" {
		t.Errorf("Title = %q", a.Title)
	}
	if a.Content != "aGVsbG8=" {
		t.Errorf("Content = %q", a.Content)
	}
	if a.ID == "" {
		t.Error("missing id")
	}
}

func TestProcessBinary_MetadataTitleWins(t *testing.T) {
	a := ProcessBinary("eA==", "application/octet-stream", map[string]any{"title": "Structure file"})
	if a.Title != "Structure file" {
		t.Errorf("Title = %q", a.Title)
	}
	if a.Kind != KindBinary {
		t.Errorf("Kind = %q", a.Kind)
	}
}

func TestNewID_Unique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b || a == "" {
		t.Errorf("NewID gave %q and %q", a, b)
	}
	if strings.ContainsAny(a, " \t\n") {
		t.Errorf("id contains whitespace: %q", a)
	}
}

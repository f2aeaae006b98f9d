package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

func TestIsTransportDead(t *testing.T) {
	dead := []error{
		io.EOF,
		io.ErrClosedPipe,
		fmt.Errorf("read: %w", io.ErrUnexpectedEOF),
		fmt.Errorf("write: %w", syscall.EPIPE),
		&json.SyntaxError{},
	}
	for _, err := range dead {
		if !isTransportDead(err) {
			t.Errorf("isTransportDead(%v) = false, want true", err)
		}
	}

	// Per-call JSON-RPC errors must not count as stream death.
	alive := []error{
		errors.New("jsonrpc error -32602: invalid params"),
		fmt.Errorf("tool rejected the request"),
		context.Canceled,
	}
	for _, err := range alive {
		if isTransportDead(err) {
			t.Errorf("isTransportDead(%v) = true, want false", err)
		}
	}
}

func TestParseEnvelope_PlainTextIgnored(t *testing.T) {
	for _, text := range []string{"hello", "", "{\"foo\": 1}", "[1,2]", "{broken"} {
		if _, ok := parseEnvelope(text); ok {
			t.Errorf("parseEnvelope(%q) accepted a non-envelope", text)
		}
	}
}

func TestParseEnvelope_SideChannels(t *testing.T) {
	env, ok := parseEnvelope(`{
		"content": [{"type": "text", "text": "found 3 papers"}],
		"bibliography": [{"pmid": "12345"}],
		"artifacts": [{"type": "text/markdown", "title": "Notes", "content": "x"}],
		"binaryOutput": [{"data": "aGk=", "type": "image/png"}]
	}`)
	if !ok {
		t.Fatal("envelope not recognized")
	}
	if len(env.Content) != 1 || env.Content[0].Text != "found 3 papers" {
		t.Errorf("content = %+v", env.Content)
	}
	if len(env.Bibliography) != 1 || env.Bibliography[0]["pmid"] != "12345" {
		t.Errorf("bibliography = %+v", env.Bibliography)
	}
	if len(env.Artifacts) != 1 {
		t.Errorf("artifacts = %+v", env.Artifacts)
	}
	if len(env.BinaryOutput) != 1 || env.BinaryOutput[0].Type != "image/png" {
		t.Errorf("binaryOutput = %+v", env.BinaryOutput)
	}
}

func TestToolResult_FoldMergesEnvelope(t *testing.T) {
	r := &ToolResult{}
	env, ok := parseEnvelope(`{"bibliography": [{"doi": "10.1/x"}], "content": [{"type": "text", "text": "a"}]}`)
	if !ok {
		t.Fatal("envelope not recognized")
	}
	r.fold(env)
	env2, _ := parseEnvelope(`{"binaryOutputs": [{"data": "eA==", "type": "image/jpeg"}]}`)
	r.fold(env2)

	if r.Text() != "a" {
		t.Errorf("Text() = %q", r.Text())
	}
	if len(r.Bibliography) != 1 || len(r.BinaryOutputs) != 1 {
		t.Errorf("side channels not folded: %+v", r)
	}
}

func TestToolResult_Text(t *testing.T) {
	r := &ToolResult{Content: []ContentBlock{
		{Type: "text", Text: "one"},
		{Type: "text", Text: ""},
		{Type: "text", Text: "two"},
	}}
	if got := r.Text(); got != "one\ntwo" {
		t.Errorf("Text() = %q", got)
	}
}

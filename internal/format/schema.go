// Package format implements the response_formatter contract: the tool
// definition the provider is constrained to call on the final round, and
// the extraction + validation of its argument object into the canonical
// StoreFormat.
package format

import (
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/seqthink/seqthink/internal/provider"
)

// ToolName is the well-known formatter tool the loop forces on the final
// round.
const ToolName = "response_formatter"

// InputSegment is one conversation element as the formatter emits it.
// Artifact segments carry the artifact inline; normalization assigns ids.
type InputSegment struct {
	Type     string         `json:"type" jsonschema:"required,enum=text,enum=artifact,description=Segment kind"`
	Content  string         `json:"content,omitempty" jsonschema:"description=Text content; required for text segments"`
	Artifact *InputArtifact `json:"artifact,omitempty" jsonschema:"description=Inline artifact; required for artifact segments"`
	Summary  string         `json:"summary,omitempty" jsonschema:"description=One-line summary of the artifact"`
}

// InputArtifact is the inline artifact shape inside an artifact segment.
type InputArtifact struct {
	Type     string `json:"type" jsonschema:"required,description=Artifact kind such as code or text/markdown"`
	Title    string `json:"title" jsonschema:"required,description=Human-readable artifact title"`
	Content  string `json:"content" jsonschema:"required,description=Artifact body"`
	Language string `json:"language,omitempty" jsonschema:"description=Language for code artifacts"`
}

// Input is the formatter tool's argument object: the canonical StoreFormat
// minus the aggregated artifact list, which is appended afterwards.
type Input struct {
	Thinking     string         `json:"thinking,omitempty" jsonschema:"description=Brief reasoning summary"`
	Conversation []InputSegment `json:"conversation" jsonschema:"required,minItems=1,description=Ordered response segments; must be a non-empty array"`
}

// InputSchema is the formatter tool's JSON Schema, generated from the Go
// types above so the contract and the decoder cannot drift.
var InputSchema = buildInputSchema()

// compiled is the same schema compiled for validation.
var compiled = compileInputSchema(InputSchema)

func buildInputSchema() json.RawMessage {
	reflector := &invopop.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	schema := reflector.Reflect(&Input{})
	data, err := json.Marshal(schema)
	if err != nil {
		// The reflected schema of a static type always marshals; reaching
		// here is a programming error.
		panic(fmt.Sprintf("format: marshal input schema: %v", err))
	}
	return data
}

func compileInputSchema(raw json.RawMessage) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Sprintf("format: unmarshal input schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("response_formatter.json", doc); err != nil {
		panic(fmt.Sprintf("format: add schema resource: %v", err))
	}
	schema, err := c.Compile("response_formatter.json")
	if err != nil {
		panic(fmt.Sprintf("format: compile input schema: %v", err))
	}
	return schema
}

// ToolDescription instructs the model on how to use the formatter.
const ToolDescription = "Format the final response for the user. Call this " +
	"exactly once when the answer is complete. conversation is an ordered, " +
	"non-empty array of segments: text segments carry prose in content, " +
	"artifact segments carry an inline artifact object plus a one-line " +
	"summary. Never pass conversation as a plain string."

// Tool returns the formatter as a provider-neutral tool definition.
func Tool() provider.Tool {
	return provider.Tool{
		Name:        ToolName,
		Description: ToolDescription,
		InputSchema: InputSchema,
	}
}

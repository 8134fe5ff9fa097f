package pipeline

import (
	"context"
	"encoding/json"
)

// generator produces validated JSON from a prompt pair. Satisfied by
// llm.StructuredClient; tests substitute scripted fakes.
type generator interface {
	GenerateJSON(ctx context.Context, prompt, system string) (json.RawMessage, error)
}

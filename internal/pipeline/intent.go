package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medihim/ippo-platform/internal/consultation"
)

// IntentExtractor distills the translated consultation text into a
// structured intent document used by classification, retrieval, and report
// writing.
type IntentExtractor struct {
	gen generator
}

// NewIntentExtractor creates the intent extraction agent.
func NewIntentExtractor(gen generator) *IntentExtractor {
	return &IntentExtractor{gen: gen}
}

const intentSystem = `あなたは美容医療カウンセリングの分析専門家です。相談内容から顧客の相談意図を抽出してください。

制約:
- main_concernsは最大5件
- keywordsは最大10件、検索に使える具体的な語のみ
- 言及されていない施術・部位を推測で追加しない

必ず次のJSON形式のみで回答してください:
{"main_concerns": [], "desired_direction": "", "unwanted": "", "mentioned_procedures": [], "body_parts": [], "keywords": []}`

// Extract produces the intent document from the consultation text.
func (e *IntentExtractor) Extract(ctx context.Context, text string) (*consultation.IntentExtraction, error) {
	raw, err := e.gen.GenerateJSON(ctx, text, intentSystem)
	if err != nil {
		return nil, fmt.Errorf("pipeline: intent extraction: %w", err)
	}

	var out consultation.IntentExtraction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pipeline: intent extraction: decode output: %w", err)
	}

	// List caps are a prompt contract; clamp here so a chatty model cannot
	// blow up downstream prompt sizes.
	if len(out.MainConcerns) > 5 {
		out.MainConcerns = out.MainConcerns[:5]
	}
	if len(out.Keywords) > 10 {
		out.Keywords = out.Keywords[:10]
	}
	return &out, nil
}

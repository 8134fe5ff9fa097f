package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medihim/ippo-platform/internal/consultation"
)

// CTAAnalyzer separates the transcript into speaker-tagged segments and
// grades the customer's purchase intent (hot/warm/cool).
type CTAAnalyzer struct {
	gen generator
}

// NewCTAAnalyzer creates the speaker-separation + CTA agent.
func NewCTAAnalyzer(gen generator) *CTAAnalyzer {
	return &CTAAnalyzer{gen: gen}
}

const ctaSystem = `あなたは美容医療カウンセリングの会話分析の専門家です。相談テキストを話者ごとに分離し、顧客の購買意欲を判定してください。

判定基準:
- hot: 施術の予約・料金・日程など具体的な行動に言及している
- warm: 施術に前向きだが比較検討・不安の解消が先行している
- cool: 情報収集段階、または施術に消極的

必ず次のJSON形式のみで回答してください:
{"speaker_segments": [{"speaker": "customer|counselor", "text": "..."}], "translated_segments": [{"speaker": "...", "text": "..."}], "customer_utterances": "顧客発言のみを連結したテキスト", "cta_level": "hot|warm|cool", "cta_signals": ["判定根拠となった表現"]}`

// Analyze runs speaker separation and CTA grading over the consultation text.
func (a *CTAAnalyzer) Analyze(ctx context.Context, text string) (*consultation.CTAAnalysis, error) {
	raw, err := a.gen.GenerateJSON(ctx, text, ctaSystem)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cta analysis: %w", err)
	}

	var out consultation.CTAAnalysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pipeline: cta analysis: decode output: %w", err)
	}
	if !out.CTALevel.Valid() {
		// An unknown grade downgrades to cool rather than failing the run.
		out.CTALevel = consultation.CTACool
	}
	if out.CustomerUtterances == "" {
		out.CustomerUtterances = text
	}
	return &out, nil
}

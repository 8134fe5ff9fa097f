package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

// ReportTranslator renders a finished report document into Korean. The
// report HTTP handler caches the result on the report row; this agent only
// does the translation itself.
type ReportTranslator struct {
	gen generator
}

// NewReportTranslator creates the report translation agent.
func NewReportTranslator(gen generator) *ReportTranslator {
	return &ReportTranslator{gen: gen}
}

const reportTranslateSystem = `あなたは医療文書の専門翻訳者です。日本語の相談リポートJSONを韓国語に翻訳してください。
JSONの構造・キー名は変更せず、値のテキストのみを自然な韓国語に翻訳してください。
URL・数値はそのまま保持してください。翻訳後のJSONのみで回答してください。`

// TranslateReport translates the report document, preserving its structure.
func (t *ReportTranslator) TranslateReport(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
	raw, err := t.gen.GenerateJSON(ctx, string(data), reportTranslateSystem)
	if err != nil {
		return nil, fmt.Errorf("pipeline: translate report: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("pipeline: translate report: backend produced unparseable document")
	}
	return raw, nil
}

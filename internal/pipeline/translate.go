package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Translator renders the Japanese consultation text into Korean for the
// downstream analysis stages.
type Translator struct {
	gen generator
}

// NewTranslator creates the translation agent.
func NewTranslator(gen generator) *Translator {
	return &Translator{gen: gen}
}

const translateSystem = `あなたは医療相談の専門翻訳者です。日本語の美容医療相談テキストを自然な韓国語に翻訳してください。
医療用語・施術名は正確に訳し、話者の口調やニュアンスを保ってください。
必ず次のJSON形式のみで回答してください: {"translated_text": "..."}`

// Translate converts consultation text to Korean.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	raw, err := t.gen.GenerateJSON(ctx, text, translateSystem)
	if err != nil {
		return "", fmt.Errorf("pipeline: translate: %w", err)
	}

	var out struct {
		TranslatedText string `json:"translated_text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("pipeline: translate: decode output: %w", err)
	}
	if strings.TrimSpace(out.TranslatedText) == "" {
		return "", fmt.Errorf("pipeline: translate: empty translation")
	}
	return out.TranslatedText, nil
}

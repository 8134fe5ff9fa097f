package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medihim/ippo-platform/internal/consultation"
)

// WriteInput is everything one report-writing attempt sees. RevisionNotes
// accumulates reviewer feedback across attempts; Direction is the admin's
// steering text on regeneration and always takes top priority in the prompt.
type WriteInput struct {
	Consultation  *consultation.Consultation
	Sources       []RAGSource
	Direction     string
	RevisionNotes []string
}

// ReportWriter produces the customer-facing consultation report document.
type ReportWriter struct {
	gen generator
}

// NewReportWriter creates the report writing agent.
func NewReportWriter(gen generator) *ReportWriter {
	return &ReportWriter{gen: gen}
}

const writeSystem = `あなたは美容医療カウンセリングのリポート作成専門家です。相談内容と参考情報をもとに、顧客向けの相談リポートを作成してください。

必ず次の10セクションを持つJSONのみで回答してください:
{"greeting": "", "concern_summary": "", "consultation_review": "", "recommended_procedures": [{"name": "", "description": "", "cost": "", "downtime": ""}], "precautions": "", "aftercare": "", "evidence": [{"title": "", "summary": "", "source_url": ""}], "faq": [{"question": "", "answer": ""}], "next_steps": "", "closing": ""}

厳守事項:
- 料金(cost)は相談文中に明示された金額のみ記載し、なければ空文字にする。金額を推測・創作しない
- evidenceには参考情報に含まれる出典のみを使い、存在しない文献を創作しない
- 各セクションは簡潔にまとめ、冗長な繰り返しを避ける
- 相談で言及されていない施術を勝手に推奨しない`

// Write generates one report document attempt.
func (w *ReportWriter) Write(ctx context.Context, in WriteInput) (json.RawMessage, error) {
	raw, err := w.gen.GenerateJSON(ctx, w.buildPrompt(in), writeSystem)
	if err != nil {
		return nil, fmt.Errorf("pipeline: write report: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("pipeline: write report: backend produced unparseable document")
	}
	return raw, nil
}

func (w *ReportWriter) buildPrompt(in WriteInput) string {
	var b strings.Builder
	c := in.Consultation

	if in.Direction != "" {
		b.WriteString("## 最優先の作成方針(管理者指示)\n")
		b.WriteString(in.Direction)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "## 顧客情報\n氏名: %s\n分類: %s\n\n", c.CustomerName, c.Classification)

	b.WriteString("## 相談内容\n")
	if c.CustomerUtterances != "" {
		b.WriteString(c.CustomerUtterances)
	} else {
		b.WriteString(c.OriginalText)
	}
	b.WriteString("\n")

	if c.IntentExtraction != nil {
		intentJSON, _ := json.Marshal(c.IntentExtraction)
		fmt.Fprintf(&b, "\n## 相談意図の分析\n%s\n", intentJSON)
	}

	if len(in.Sources) > 0 {
		b.WriteString("\n## 参考情報\n")
		for i, s := range in.Sources {
			fmt.Fprintf(&b, "[%d] (%s) Q: %s\nA: %s\n出典: %s\n", i+1, s.SourceType, s.Question, s.Answer, s.SourceURL)
		}
	}

	if len(in.RevisionNotes) > 0 {
		b.WriteString("\n## 前回リポートへのレビュー指摘(必ず反映すること)\n")
		for _, note := range in.RevisionNotes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
	}
	return b.String()
}

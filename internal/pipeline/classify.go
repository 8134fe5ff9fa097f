package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/knowledge"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// Classifier routes a consultation to dermatology or plastic surgery, or
// declares it unclassified for human triage. The keyword dictionary is
// loaded fresh for each run so keyword edits take effect without a restart.
type Classifier struct {
	gen       generator
	keywords  knowledge.KeywordSource
	threshold float64
	logger    *logging.Logger
}

// NewClassifier creates the classification agent. threshold is the
// confidence above which the first verdict stands without re-validation.
func NewClassifier(gen generator, keywords knowledge.KeywordSource, threshold float64, logger *logging.Logger) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{gen: gen, keywords: keywords, threshold: threshold, logger: logger}
}

const classifySystem = `あなたは美容医療機関の振り分け担当者です。相談内容を「dermatology」(美容皮膚科)または「plastic_surgery」(美容外科)に分類してください。

分類の原則:
- 骨格・組織の構造的変化を伴う施術(切開、プロテーゼ、脂肪移植など)は plastic_surgery
- 肌質改善・維持を目的とする施術(レーザー、注入系のメンテナンスなど)は dermatology
- boundaryカテゴリの語は単独では判定根拠にならない。構造変化の文脈を伴えば plastic_surgery、肌メンテナンスの文脈を伴えば dermatology、文脈の手がかりがなければ unclassified とする
- 判断がつかない場合は無理に分類せず unclassified とする

必ず次のJSON形式のみで回答してください:
{"classification": "dermatology|plastic_surgery|unclassified", "confidence": 0.0, "reason": "..."}`

const validateSystem = `あなたは美容医療機関の振り分け結果を検証する担当者です。一次分類の結果を相談内容と照らして確認し、最終判定を下してください。
一次分類が妥当ならそのまま採用し、根拠が弱ければ修正してください。確信が持てなければ unclassified としてください。

必ず次のJSON形式のみで回答してください:
{"classification": "dermatology|plastic_surgery|unclassified", "confidence": 0.0, "reason": "..."}`

// Classify produces the first-pass category verdict.
func (c *Classifier) Classify(ctx context.Context, text string, intent *consultation.IntentExtraction) (consultation.ClassificationResult, error) {
	dict, err := c.keywords.Load(ctx)
	if err != nil {
		return consultation.ClassificationResult{}, fmt.Errorf("pipeline: classify: load keywords: %w", err)
	}
	return c.generate(ctx, c.buildPrompt(text, intent, dict), classifySystem)
}

// NeedsValidation reports whether a verdict is too weak to stand: below the
// confidence threshold, or unclassified at any confidence.
func (c *Classifier) NeedsValidation(result consultation.ClassificationResult) bool {
	return result.Confidence < c.threshold || result.Classification == consultation.ClassUnclassified
}

// Validate re-judges a weak first verdict with the prior result in view.
// The second verdict wins, even if it is again unclassified.
func (c *Classifier) Validate(ctx context.Context, text string, intent *consultation.IntentExtraction, first consultation.ClassificationResult) (consultation.ClassificationResult, error) {
	dict, err := c.keywords.Load(ctx)
	if err != nil {
		return consultation.ClassificationResult{}, fmt.Errorf("pipeline: validate: load keywords: %w", err)
	}

	c.logger.Info("classification below threshold, re-validating",
		"classification", string(first.Classification),
		"confidence", first.Confidence,
	)
	revalidation := fmt.Sprintf("%s\n\n## 一次分類の結果\n分類: %s\n確信度: %.2f\n理由: %s",
		c.buildPrompt(text, intent, dict), first.Classification, first.Confidence, first.Reason)
	return c.generate(ctx, revalidation, validateSystem)
}

func (c *Classifier) generate(ctx context.Context, prompt, system string) (consultation.ClassificationResult, error) {
	raw, err := c.gen.GenerateJSON(ctx, prompt, system)
	if err != nil {
		return consultation.ClassificationResult{}, fmt.Errorf("pipeline: classify: %w", err)
	}

	var out consultation.ClassificationResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return consultation.ClassificationResult{}, fmt.Errorf("pipeline: classify: decode output: %w", err)
	}
	if !out.Classification.Valid() {
		out.Classification = consultation.ClassUnclassified
		out.Confidence = 0
	}
	return out, nil
}

func (c *Classifier) buildPrompt(text string, intent *consultation.IntentExtraction, dict *knowledge.Dictionary) string {
	var b strings.Builder
	b.WriteString("## 相談内容\n")
	b.WriteString(text)

	if intent != nil {
		b.WriteString("\n\n## 抽出済みの相談意図\n")
		if len(intent.MainConcerns) > 0 {
			fmt.Fprintf(&b, "主な悩み: %s\n", strings.Join(intent.MainConcerns, "、"))
		}
		if len(intent.MentionedProcedures) > 0 {
			fmt.Fprintf(&b, "言及された施術: %s\n", strings.Join(intent.MentionedProcedures, "、"))
		}
		if len(intent.BodyParts) > 0 {
			fmt.Fprintf(&b, "部位: %s\n", strings.Join(intent.BodyParts, "、"))
		}
	}

	if dict != nil && dict.Len() > 0 {
		b.WriteString("\n\n## カテゴリ別キーワード辞書\n")
		b.WriteString(dict.PromptLines())
		if matched := dict.MatchCategories(text); len(matched) > 0 {
			fmt.Fprintf(&b, "\n\n相談文中に検出されたカテゴリ: %s", strings.Join(matched, ", "))
		}
	}
	return b.String()
}

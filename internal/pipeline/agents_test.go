package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/knowledge"
)

// fakeGen replays scripted responses and records every prompt it saw.
type fakeGen struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
	systems   []string
}

func (g *fakeGen) GenerateJSON(_ context.Context, prompt, system string) (json.RawMessage, error) {
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.systems = append(g.systems, system)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i >= len(g.responses) {
		return nil, errors.New("fakeGen: no scripted response left")
	}
	return json.RawMessage(g.responses[i]), nil
}

type fakeKeywords struct {
	dict *knowledge.Dictionary
	err  error
}

func (f *fakeKeywords) Load(context.Context) (*knowledge.Dictionary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dict, nil
}

func testDictionary() *knowledge.Dictionary {
	return knowledge.NewDictionary(map[string][]string{
		"dermatology":     {"シミ", "レーザートーニング"},
		"plastic_surgery": {"二重切開", "プロテーゼ"},
		"boundary":        {"糸リフト", "脂肪溶解注射"},
	})
}

func TestTranslatorReturnsText(t *testing.T) {
	gen := &fakeGen{responses: []string{`{"translated_text": "번역된 상담 내용"}`}}
	tr := NewTranslator(gen)

	out, err := tr.Translate(context.Background(), "シミが気になります")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "번역된 상담 내용" {
		t.Errorf("unexpected translation %q", out)
	}
}

func TestTranslatorRejectsEmptyOutput(t *testing.T) {
	gen := &fakeGen{responses: []string{`{"translated_text": "  "}`}}
	tr := NewTranslator(gen)

	if _, err := tr.Translate(context.Background(), "text"); err == nil {
		t.Fatal("empty translation must be an error")
	}
}

func TestCTAAnalyzerDowngradesUnknownLevel(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"speaker_segments": [{"speaker": "customer", "text": "料金はいくらですか"}], "customer_utterances": "料金はいくらですか", "cta_level": "blazing", "cta_signals": ["料金の質問"]}`,
	}}
	a := NewCTAAnalyzer(gen)

	out, err := a.Analyze(context.Background(), "料金はいくらですか")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out.CTALevel != consultation.CTACool {
		t.Errorf("unknown grade must downgrade to cool, got %q", out.CTALevel)
	}
}

func TestIntentExtractorClampsLists(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"main_concerns": ["a","b","c","d","e","f","g"], "desired_direction": "自然に", "unwanted": "", "mentioned_procedures": [], "body_parts": [], "keywords": ["1","2","3","4","5","6","7","8","9","10","11","12"]}`,
	}}
	e := NewIntentExtractor(gen)

	out, err := e.Extract(context.Background(), "utterances")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(out.MainConcerns) != 5 {
		t.Errorf("main concerns must be capped at 5, got %d", len(out.MainConcerns))
	}
	if len(out.Keywords) != 10 {
		t.Errorf("keywords must be capped at 10, got %d", len(out.Keywords))
	}
}

func TestClassifyHighConfidenceNeedsNoValidation(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"classification": "plastic_surgery", "confidence": 0.93, "reason": "切開を伴う施術の相談"}`,
	}}
	c := NewClassifier(gen, &fakeKeywords{dict: testDictionary()}, 0.85, nil)

	result, err := c.Classify(context.Background(), "二重切開を考えています", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("first pass must be a single call, got %d calls", gen.calls)
	}
	if result.Classification != consultation.ClassPlasticSurgery {
		t.Errorf("unexpected classification %q", result.Classification)
	}
	if c.NeedsValidation(result) {
		t.Error("a confident resolved verdict must stand without validation")
	}
	if !strings.Contains(gen.prompts[0], "二重切開") || !strings.Contains(gen.prompts[0], "boundary") {
		t.Error("prompt must carry the consultation text and the keyword dictionary")
	}
}

func TestClassifyConfidenceExactlyAtThresholdAccepted(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"classification": "dermatology", "confidence": 0.85, "reason": "肌質改善の相談"}`,
	}}
	c := NewClassifier(gen, &fakeKeywords{dict: testDictionary()}, 0.85, nil)

	result, err := c.Classify(context.Background(), "シミ治療の相談", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.NeedsValidation(result) {
		t.Error("confidence exactly at threshold must be accepted as-is")
	}
}

func TestValidateRejudgesWeakVerdict(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"classification": "dermatology", "confidence": 0.84, "reason": "弱い根拠"}`,
		`{"classification": "plastic_surgery", "confidence": 0.9, "reason": "構造変化の文脈あり"}`,
	}}
	c := NewClassifier(gen, &fakeKeywords{dict: testDictionary()}, 0.85, nil)

	first, err := c.Classify(context.Background(), "糸リフトで輪郭を変えたい", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !c.NeedsValidation(first) {
		t.Fatal("one unit below threshold must require validation")
	}
	second, err := c.Validate(context.Background(), "糸リフトで輪郭を変えたい", nil, first)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if second.Classification != consultation.ClassPlasticSurgery {
		t.Errorf("second verdict must win, got %q", second.Classification)
	}
	if !strings.Contains(gen.prompts[1], "一次分類") {
		t.Error("re-validation prompt must present the prior verdict")
	}
}

func TestUnclassifiedNeedsValidationAtAnyConfidence(t *testing.T) {
	gen := &fakeGen{responses: []string{
		`{"classification": "unclassified", "confidence": 0.95, "reason": "文脈の手がかりなし"}`,
		`{"classification": "unclassified", "confidence": 0.5, "reason": "依然として不明"}`,
	}}
	c := NewClassifier(gen, &fakeKeywords{dict: testDictionary()}, 0.85, nil)

	first, err := c.Classify(context.Background(), "なんとなく相談したい", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !c.NeedsValidation(first) {
		t.Fatal("unclassified must be re-validated even at high confidence")
	}
	second, err := c.Validate(context.Background(), "なんとなく相談したい", nil, first)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if second.Classification != consultation.ClassUnclassified {
		t.Errorf("unexpected classification %q", second.Classification)
	}
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedDocument(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

type fakeFAQStore struct {
	matches    []knowledge.FAQMatch
	byID       map[int64]knowledge.FAQMatch
	getByIDArg []int64
}

func (f *fakeFAQStore) Search(_ context.Context, _ []float32, _ string, _ float64, _ int) ([]knowledge.FAQMatch, error) {
	out := make([]knowledge.FAQMatch, len(f.matches))
	copy(out, f.matches)
	return out, nil
}

func (f *fakeFAQStore) GetByIDs(_ context.Context, ids []int64) ([]knowledge.FAQMatch, error) {
	f.getByIDArg = ids
	var out []knowledge.FAQMatch
	for _, id := range ids {
		if m, ok := f.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestRetrieveTagsProvenanceAndBackfills(t *testing.T) {
	store := &fakeFAQStore{
		matches: []knowledge.FAQMatch{
			{ID: 1, Question: "ダウンタイムは?", Answer: "数日です", SourceURL: "https://youtube.com/watch?v=abc", Similarity: 0.9},
			{ID: 2, Question: "", Answer: "", SourceURL: "https://pubmed.ncbi.nlm.nih.gov/12345/", Similarity: 0.8},
		},
		byID: map[int64]knowledge.FAQMatch{
			2: {ID: 2, Question: "効果の根拠は?", Answer: "臨床試験で確認", SourceURL: "https://pubmed.ncbi.nlm.nih.gov/12345/"},
		},
	}
	r := NewRetriever(&fakeEmbedder{vector: []float32{0.1, 0.2}}, store, 0.65, 8, nil)

	sources, err := r.Retrieve(context.Background(), []string{"シミ", "レーザー"}, consultation.ClassDermatology)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].SourceType != SourceFAQ {
		t.Errorf("youtube URL must tag as %q, got %q", SourceFAQ, sources[0].SourceType)
	}
	if sources[1].SourceType != SourceLiterature {
		t.Errorf("pubmed URL must tag as %q, got %q", SourceLiterature, sources[1].SourceType)
	}
	if sources[1].Answer != "臨床試験で確認" {
		t.Error("empty display fields must be backfilled by the secondary lookup")
	}
	if sources[1].Similarity != 0.8 {
		t.Error("backfill must keep the search similarity")
	}
	if len(store.getByIDArg) != 1 || store.getByIDArg[0] != 2 {
		t.Errorf("only incomplete rows should be backfilled, got %v", store.getByIDArg)
	}
}

func TestRetrieveEmptyKeywordsSkipsSearch(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &fakeFAQStore{}, 0.65, 8, nil)
	sources, err := r.Retrieve(context.Background(), nil, consultation.ClassDermatology)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if sources != nil {
		t.Errorf("no keywords must mean no retrieval, got %v", sources)
	}
}

func TestReviewFailOpenAfterRetry(t *testing.T) {
	gen := &fakeGen{responses: []string{`not json at all`, `still not json`}}
	r := NewReportReviewer(gen, true, nil)

	verdict, err := r.Review(context.Background(), json.RawMessage(`{"greeting":"x"}`), nil)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("unparseable verdict must be retried once, got %d calls", gen.calls)
	}
	if !verdict.Passed {
		t.Error("fail-open policy must default to pass")
	}
	if len(verdict.Issues) == 0 {
		t.Error("defaulted verdict must carry a diagnostic issue")
	}
}

func TestReviewFailClosedPropagatesError(t *testing.T) {
	gen := &fakeGen{responses: []string{`garbage`, `garbage`}}
	r := NewReportReviewer(gen, false, nil)

	if _, err := r.Review(context.Background(), json.RawMessage(`{}`), nil); err == nil {
		t.Fatal("fail-closed policy must propagate the parse failure")
	}
}

func TestWriterInjectsDirectionAndRevisionNotes(t *testing.T) {
	gen := &fakeGen{responses: []string{`{"greeting": "こんにちは"}`}}
	w := NewReportWriter(gen)

	_, err := w.Write(context.Background(), WriteInput{
		Consultation: &consultation.Consultation{
			CustomerName:       "田中",
			OriginalText:       "シミの相談",
			CustomerUtterances: "シミが気になります",
			Classification:     consultation.ClassDermatology,
		},
		Direction:     "回復期間を重点的に",
		RevisionNotes: []string{"料金の記載を削除すること"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "回復期間を重点的に") {
		t.Error("direction text must appear in the prompt")
	}
	if !strings.HasPrefix(prompt, "## 最優先の作成方針") {
		t.Error("direction must be the top-priority section")
	}
	if !strings.Contains(prompt, "料金の記載を削除すること") {
		t.Error("revision notes must appear in the prompt")
	}
}

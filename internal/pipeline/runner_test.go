package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/report"
)

// fakeAgents implements every stage interface with canned outputs while
// recording what the runner handed each stage.
type fakeAgents struct {
	translateOut string
	translateErr error
	cta          *consultation.CTAAnalysis
	intent       *consultation.IntentExtraction
	classify     consultation.ClassificationResult
	validated    *consultation.ClassificationResult
	sources      []RAGSource
	retrieveErr  error

	intentInputs     []string
	validateCalls    int
	retrieveKeywords [][]string
	writeInputs      []WriteInput
	verdicts         []ReviewVerdict
	reviewCalls      int
}

func (f *fakeAgents) Translate(_ context.Context, _ string) (string, error) {
	if f.translateErr != nil {
		return "", f.translateErr
	}
	return f.translateOut, nil
}

func (f *fakeAgents) Analyze(_ context.Context, _ string) (*consultation.CTAAnalysis, error) {
	return f.cta, nil
}

func (f *fakeAgents) Extract(_ context.Context, text string) (*consultation.IntentExtraction, error) {
	f.intentInputs = append(f.intentInputs, text)
	return f.intent, nil
}

func (f *fakeAgents) Classify(_ context.Context, _ string, _ *consultation.IntentExtraction) (consultation.ClassificationResult, error) {
	return f.classify, nil
}

func (f *fakeAgents) NeedsValidation(result consultation.ClassificationResult) bool {
	return result.Confidence < 0.85 || result.Classification == consultation.ClassUnclassified
}

func (f *fakeAgents) Validate(_ context.Context, _ string, _ *consultation.IntentExtraction, _ consultation.ClassificationResult) (consultation.ClassificationResult, error) {
	f.validateCalls++
	if f.validated != nil {
		return *f.validated, nil
	}
	return f.classify, nil
}

func (f *fakeAgents) Retrieve(_ context.Context, keywords []string, _ consultation.Classification) ([]RAGSource, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	f.retrieveKeywords = append(f.retrieveKeywords, keywords)
	return f.sources, nil
}

func (f *fakeAgents) Write(_ context.Context, in WriteInput) (json.RawMessage, error) {
	f.writeInputs = append(f.writeInputs, in)
	return json.RawMessage(fmt.Sprintf(`{"greeting": "attempt %d"}`, len(f.writeInputs))), nil
}

func (f *fakeAgents) Review(_ context.Context, _ json.RawMessage, _ []RAGSource) (ReviewVerdict, error) {
	i := f.reviewCalls
	f.reviewCalls++
	if i < len(f.verdicts) {
		return f.verdicts[i], nil
	}
	return ReviewVerdict{Passed: true, Score: 0.9}, nil
}

func passingAgents() *fakeAgents {
	return &fakeAgents{
		translateOut: "번역된 텍스트",
		cta: &consultation.CTAAnalysis{
			SpeakerSegments:    []consultation.SpeakerSegment{{Speaker: "customer", Text: "二重切開を考えています"}},
			CustomerUtterances: "二重切開を考えています",
			CTALevel:           consultation.CTAHot,
			CTASignals:         []string{"予約の相談"},
		},
		intent: &consultation.IntentExtraction{
			MainConcerns: []string{"目元の印象"},
			Keywords:     []string{"二重切開", "ダウンタイム"},
		},
		classify: consultation.ClassificationResult{
			Classification: consultation.ClassPlasticSurgery,
			Confidence:     0.92,
			Reason:         "構造変化を伴う施術",
		},
		sources: []RAGSource{{ID: 1, Question: "Q", Answer: "A", SourceURL: "https://youtube.com/x", SourceType: SourceFAQ, Similarity: 0.9}},
	}
}

type runnerEnv struct {
	consultations *consultation.InMemoryRepository
	reports       *report.InMemoryRepository
	agents        *fakeAgents
	audit         *MemoryAuditLog
	runner        *Runner
}

func newRunnerEnv(agents *fakeAgents) *runnerEnv {
	env := &runnerEnv{
		consultations: consultation.NewInMemoryRepository(),
		reports:       report.NewInMemoryRepository(),
		agents:        agents,
		audit:         NewMemoryAuditLog(),
	}
	env.runner = NewRunner(env.consultations, env.reports, Agents{
		Translate: agents,
		CTA:       agents,
		Intent:    agents,
		Classify:  agents,
		Retrieve:  agents,
		Write:     agents,
		Review:    agents,
	}, env.audit, nil, nil, RunnerConfig{})
	return env
}

func (env *runnerEnv) register(t *testing.T) *consultation.Consultation {
	t.Helper()
	c, err := env.consultations.Create(context.Background(), &consultation.CreateRequest{
		CustomerName: "田中",
		OriginalText: "二重切開を考えています。骨格から変えたいです。",
	})
	if err != nil {
		t.Fatalf("register consultation: %v", err)
	}
	return c
}

func TestRunHappyPathProducesReadyReport(t *testing.T) {
	env := newRunnerEnv(passingAgents())
	c := env.register(t)
	ctx := context.Background()

	if err := env.runner.Run(ctx, c.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := env.consultations.GetByID(ctx, c.ID)
	if got.Status != consultation.StatusReportReady {
		t.Fatalf("expected report_ready, got %q", got.Status)
	}
	if got.TranslatedText == "" || got.CustomerUtterances == "" || got.IntentExtraction == nil {
		t.Error("stage checkpoints must be durable on the consultation row")
	}
	if got.Classification != consultation.ClassPlasticSurgery || got.ClassificationConfidence != 0.92 {
		t.Errorf("classification checkpoint wrong: %q %v", got.Classification, got.ClassificationConfidence)
	}
	if got.CTALevel != consultation.CTAHot {
		t.Errorf("cta checkpoint wrong: %q", got.CTALevel)
	}

	rep, err := env.reports.GetByConsultationID(ctx, c.ID)
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if rep.ReviewCount != 1 || !rep.ReviewPassed {
		t.Errorf("review bookkeeping wrong: count=%d passed=%v", rep.ReviewCount, rep.ReviewPassed)
	}
	if !strings.Contains(string(rep.RAGContext), "youtube.com") {
		t.Error("retrieved sources must be persisted alongside the report")
	}

	entries := env.audit.Entries()
	wantStages := []string{"translator", "cta_analyzer", "intent_extractor", "classifier", "retriever", "report_writer", "report_reviewer"}
	if len(entries) != len(wantStages) {
		t.Fatalf("expected %d audit entries, got %d", len(wantStages), len(entries))
	}
	for i, stage := range wantStages {
		if entries[i].AgentName != stage || entries[i].Status != "success" {
			t.Errorf("audit entry %d: got %s/%s", i, entries[i].AgentName, entries[i].Status)
		}
	}
	if env.agents.validateCalls != 0 {
		t.Errorf("a confident verdict must not be re-validated, got %d calls", env.agents.validateCalls)
	}
}

func TestIntentRunsOnTranslatedText(t *testing.T) {
	env := newRunnerEnv(passingAgents())
	c := env.register(t)

	if err := env.runner.Run(context.Background(), c.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(env.agents.intentInputs) != 1 {
		t.Fatalf("expected 1 intent extraction, got %d", len(env.agents.intentInputs))
	}
	if got := env.agents.intentInputs[0]; got != "번역된 텍스트" {
		t.Errorf("intent stage must read the translated text, got %q", got)
	}
}

func TestWeakClassificationIsRevalidatedWithItsOwnAudit(t *testing.T) {
	agents := passingAgents()
	agents.classify = consultation.ClassificationResult{
		Classification: consultation.ClassDermatology,
		Confidence:     0.6,
		Reason:         "弱い根拠",
	}
	agents.validated = &consultation.ClassificationResult{
		Classification: consultation.ClassDermatology,
		Confidence:     0.9,
		Reason:         "肌メンテナンスの文脈あり",
	}
	env := newRunnerEnv(agents)
	c := env.register(t)
	ctx := context.Background()

	if err := env.runner.Run(ctx, c.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if agents.validateCalls != 1 {
		t.Fatalf("expected exactly one validation pass, got %d", agents.validateCalls)
	}
	got, _ := env.consultations.GetByID(ctx, c.ID)
	if got.Classification != consultation.ClassDermatology || got.ClassificationConfidence != 0.9 {
		t.Errorf("validated verdict must be the persisted one: %q %v", got.Classification, got.ClassificationConfidence)
	}

	var stages []string
	for _, e := range env.audit.Entries() {
		stages = append(stages, e.AgentName)
	}
	joined := strings.Join(stages, ",")
	if !strings.Contains(joined, "classifier,validator") {
		t.Errorf("validator must be audited as its own stage after classifier, got %v", stages)
	}
}

func TestUnclassifiedParksUntilManualResume(t *testing.T) {
	agents := passingAgents()
	agents.classify = consultation.ClassificationResult{
		Classification: consultation.ClassUnclassified,
		Confidence:     0.4,
		Reason:         "文脈の手がかりなし",
	}
	env := newRunnerEnv(agents)
	c := env.register(t)
	ctx := context.Background()

	if err := env.runner.Run(ctx, c.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := env.consultations.GetByID(ctx, c.ID)
	if got.Status != consultation.StatusClassificationPending {
		t.Fatalf("expected classification_pending, got %q", got.Status)
	}
	if _, err := env.reports.GetByConsultationID(ctx, c.ID); !errors.Is(err, report.ErrNotFound) {
		t.Fatal("report generation must never run for an unclassified consultation")
	}

	// Human resolves the category; pipeline re-enters at retrieval.
	if err := env.runner.Resume(ctx, c.ID, consultation.ClassDermatology); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got, _ = env.consultations.GetByID(ctx, c.ID)
	if got.Status != consultation.StatusReportReady {
		t.Fatalf("expected report_ready after resume, got %q", got.Status)
	}
	if !got.ManuallyClassified || got.Classification != consultation.ClassDermatology {
		t.Error("manual classification must be recorded")
	}
	if _, err := env.reports.GetByConsultationID(ctx, c.ID); err != nil {
		t.Fatalf("report must exist after resume: %v", err)
	}
}

func TestReviewLoopExhaustsAtThreeAttempts(t *testing.T) {
	agents := passingAgents()
	failing := ReviewVerdict{Passed: false, Score: 0.3, Feedback: "料金を削除", Issues: []string{"捏造された金額"}}
	agents.verdicts = []ReviewVerdict{failing, failing, failing}
	env := newRunnerEnv(agents)
	c := env.register(t)
	ctx := context.Background()

	if err := env.runner.Run(ctx, c.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	rep, err := env.reports.GetByConsultationID(ctx, c.ID)
	if err != nil {
		t.Fatalf("report must be persisted even when every review fails: %v", err)
	}
	if rep.ReviewCount != 3 || rep.ReviewPassed {
		t.Errorf("expected count=3 passed=false, got count=%d passed=%v", rep.ReviewCount, rep.ReviewPassed)
	}
	if string(rep.ReportData) != `{"greeting": "attempt 3"}` {
		t.Errorf("the last-written body must be persisted, got %s", rep.ReportData)
	}

	if len(agents.writeInputs) != 3 {
		t.Fatalf("expected 3 write attempts, got %d", len(agents.writeInputs))
	}
	if len(agents.writeInputs[0].RevisionNotes) != 0 {
		t.Error("first attempt must see no revision notes")
	}
	if len(agents.writeInputs[1].RevisionNotes) != 1 || len(agents.writeInputs[2].RevisionNotes) != 2 {
		t.Errorf("reviewer feedback must accumulate across attempts: %d then %d",
			len(agents.writeInputs[1].RevisionNotes), len(agents.writeInputs[2].RevisionNotes))
	}
	if !strings.Contains(agents.writeInputs[1].RevisionNotes[0], "料金を削除") {
		t.Error("revision note must carry the reviewer feedback")
	}
}

func TestStageFailureMarksConsultationFailed(t *testing.T) {
	agents := passingAgents()
	agents.translateErr = errors.New("backend exploded")
	env := newRunnerEnv(agents)
	c := env.register(t)
	ctx := context.Background()

	if err := env.runner.Run(ctx, c.ID); err == nil {
		t.Fatal("stage failure must propagate")
	}

	got, _ := env.consultations.GetByID(ctx, c.ID)
	if got.Status != consultation.StatusReportFailed {
		t.Fatalf("expected report_failed, got %q", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "backend exploded") {
		t.Errorf("error message must be persisted, got %q", got.ErrorMessage)
	}

	entries := env.audit.Entries()
	if len(entries) == 0 || entries[len(entries)-1].Status != "error" {
		t.Error("a failure audit entry must be written")
	}
}

func TestRegenerateSteersRetrievalAndOverwrites(t *testing.T) {
	env := newRunnerEnv(passingAgents())
	c := env.register(t)
	ctx := context.Background()

	if err := env.runner.Run(ctx, c.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	rep, _ := env.reports.GetByConsultationID(ctx, c.ID)
	if err := env.reports.SaveTranslation(ctx, rep.ID, json.RawMessage(`{"greeting":"ko"}`)); err != nil {
		t.Fatalf("seed translation: %v", err)
	}

	if err := env.runner.Regenerate(ctx, rep.ID, "回復期間 重点"); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	// Second retrieval query = intent keywords union direction tokens.
	if len(env.agents.retrieveKeywords) != 2 {
		t.Fatalf("expected 2 retrievals, got %d", len(env.agents.retrieveKeywords))
	}
	second := strings.Join(env.agents.retrieveKeywords[1], " ")
	for _, want := range []string{"二重切開", "ダウンタイム", "回復期間", "重点"} {
		if !strings.Contains(second, want) {
			t.Errorf("regeneration query must contain %q, got %q", want, second)
		}
	}

	lastWrite := env.agents.writeInputs[len(env.agents.writeInputs)-1]
	if lastWrite.Direction != "回復期間 重点" {
		t.Error("direction must steer every regeneration write attempt")
	}

	got, _ := env.reports.GetByID(ctx, rep.ID)
	if got.AccessToken != rep.AccessToken {
		t.Error("regeneration must reuse the original access token")
	}
	if len(got.ReportDataKo) != 0 {
		t.Error("cached translation must be invalidated on regeneration")
	}
	if string(got.ReportData) == string(rep.ReportData) {
		t.Error("report body must be rewritten")
	}

	gotC, _ := env.consultations.GetByID(ctx, c.ID)
	if gotC.Status != consultation.StatusReportReady {
		t.Errorf("consultation must return to report_ready, got %q", gotC.Status)
	}
}

func TestRegenerateFailureRejectsStaleReport(t *testing.T) {
	env := newRunnerEnv(passingAgents())
	c := env.register(t)
	ctx := context.Background()

	if err := env.runner.Run(ctx, c.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	rep, _ := env.reports.GetByConsultationID(ctx, c.ID)

	env.agents.retrieveErr = errors.New("vector store down")
	if err := env.runner.Regenerate(ctx, rep.ID, "回復期間 重点"); err == nil {
		t.Fatal("regeneration failure must propagate")
	}

	got, _ := env.reports.GetByID(ctx, rep.ID)
	if got.Status != report.StatusRejected {
		t.Fatalf("stale report must be rejected, got %q", got.Status)
	}
	if !strings.Contains(got.ReviewNotes, "vector store down") {
		t.Errorf("rejection notes must carry the failure, got %q", got.ReviewNotes)
	}
	if string(got.ReportData) != string(rep.ReportData) {
		t.Error("failed regeneration must not overwrite the report body")
	}

	gotC, _ := env.consultations.GetByID(ctx, c.ID)
	if gotC.Status != consultation.StatusReportFailed {
		t.Errorf("consultation must be marked failed, got %q", gotC.Status)
	}
}

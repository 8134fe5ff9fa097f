package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/observability/metrics"
	"github.com/medihim/ippo-platform/internal/report"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// Stage agent contracts. The concrete agents in this package satisfy them;
// runner tests substitute deterministic fakes.
type (
	TranslateAgent interface {
		Translate(ctx context.Context, text string) (string, error)
	}
	CTAAgent interface {
		Analyze(ctx context.Context, text string) (*consultation.CTAAnalysis, error)
	}
	IntentAgent interface {
		Extract(ctx context.Context, text string) (*consultation.IntentExtraction, error)
	}
	ClassifyAgent interface {
		Classify(ctx context.Context, text string, intent *consultation.IntentExtraction) (consultation.ClassificationResult, error)
		NeedsValidation(result consultation.ClassificationResult) bool
		Validate(ctx context.Context, text string, intent *consultation.IntentExtraction, first consultation.ClassificationResult) (consultation.ClassificationResult, error)
	}
	RetrieveAgent interface {
		Retrieve(ctx context.Context, keywords []string, category consultation.Classification) ([]RAGSource, error)
	}
	WriteAgent interface {
		Write(ctx context.Context, in WriteInput) (json.RawMessage, error)
	}
	ReviewAgent interface {
		Review(ctx context.Context, reportData json.RawMessage, sources []RAGSource) (ReviewVerdict, error)
	}
)

// Agents bundles the stage agents the runner drives.
type Agents struct {
	Translate TranslateAgent
	CTA       CTAAgent
	Intent    IntentAgent
	Classify  ClassifyAgent
	Retrieve  RetrieveAgent
	Write     WriteAgent
	Review    ReviewAgent
}

// RunnerConfig holds the orchestration policy knobs.
type RunnerConfig struct {
	MaxWriteAttempts int           // write/review loop budget, default 3
	StageTimeout     time.Duration // per-stage deadline, default 120s
}

func (c *RunnerConfig) defaults() {
	if c.MaxWriteAttempts <= 0 {
		c.MaxWriteAttempts = 3
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 120 * time.Second
	}
}

// Runner drives a consultation through the stage pipeline, checkpointing
// after every stage. A run either produces a complete report or marks the
// consultation report_failed; there is no partial-report persistence.
type Runner struct {
	consultations consultation.Repository
	reports       report.Repository
	agents        Agents
	audit         AuditLog
	metrics       *metrics.PipelineMetrics
	logger        *logging.Logger
	cfg           RunnerConfig
}

// NewRunner wires the orchestrator.
func NewRunner(
	consultations consultation.Repository,
	reports report.Repository,
	agents Agents,
	audit AuditLog,
	m *metrics.PipelineMetrics,
	logger *logging.Logger,
	cfg RunnerConfig,
) *Runner {
	cfg.defaults()
	if audit == nil {
		audit = NewMemoryAuditLog()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		consultations: consultations,
		reports:       reports,
		agents:        agents,
		audit:         audit,
		metrics:       m,
		logger:        logger,
		cfg:           cfg,
	}
}

// Run executes the full pipeline for a freshly registered consultation.
func (r *Runner) Run(ctx context.Context, consultationID string) error {
	c, err := r.consultations.GetByID(ctx, consultationID)
	if err != nil {
		return fmt.Errorf("pipeline: load consultation: %w", err)
	}
	if err := r.consultations.SetStatus(ctx, c.ID, consultation.StatusProcessing); err != nil {
		return fmt.Errorf("pipeline: set status: %w", err)
	}
	r.logger.Info("pipeline run started", "consultation_id", c.ID)

	// Translate.
	translated, err := r.runStage(ctx, c.ID, "translator", c.OriginalText, func(sctx context.Context) (any, error) {
		return r.agents.Translate.Translate(sctx, c.OriginalText)
	})
	if err != nil {
		return r.fail(ctx, c.ID, "translator", err)
	}
	c.TranslatedText = translated.(string)
	if err := r.consultations.SaveTranslation(ctx, c.ID, c.TranslatedText); err != nil {
		return r.fail(ctx, c.ID, "translator", err)
	}

	// Speaker separation + CTA.
	ctaOut, err := r.runStage(ctx, c.ID, "cta_analyzer", c.OriginalText, func(sctx context.Context) (any, error) {
		return r.agents.CTA.Analyze(sctx, c.OriginalText)
	})
	if err != nil {
		return r.fail(ctx, c.ID, "cta_analyzer", err)
	}
	cta := ctaOut.(*consultation.CTAAnalysis)
	if err := r.consultations.SaveCTAAnalysis(ctx, c.ID, cta); err != nil {
		return r.fail(ctx, c.ID, "cta_analyzer", err)
	}
	c.CustomerUtterances = cta.CustomerUtterances

	// Intent and classification read the translated text, falling back to
	// the source when translation produced nothing.
	workingText := c.TranslatedText
	if workingText == "" {
		workingText = c.OriginalText
	}

	// Intent extraction.
	intentOut, err := r.runStage(ctx, c.ID, "intent_extractor", workingText, func(sctx context.Context) (any, error) {
		return r.agents.Intent.Extract(sctx, workingText)
	})
	if err != nil {
		return r.fail(ctx, c.ID, "intent_extractor", err)
	}
	intent := intentOut.(*consultation.IntentExtraction)
	if err := r.consultations.SaveIntent(ctx, c.ID, intent); err != nil {
		return r.fail(ctx, c.ID, "intent_extractor", err)
	}
	c.IntentExtraction = intent

	// Classification, re-judged by the validator when the first verdict is
	// weak or unresolved.
	resultOut, err := r.runStage(ctx, c.ID, "classifier", workingText, func(sctx context.Context) (any, error) {
		return r.agents.Classify.Classify(sctx, workingText, intent)
	})
	if err != nil {
		return r.fail(ctx, c.ID, "classifier", err)
	}
	result := resultOut.(consultation.ClassificationResult)
	if r.agents.Classify.NeedsValidation(result) {
		validatedOut, err := r.runStage(ctx, c.ID, "validator", result, func(sctx context.Context) (any, error) {
			return r.agents.Classify.Validate(sctx, workingText, intent, result)
		})
		if err != nil {
			return r.fail(ctx, c.ID, "validator", err)
		}
		result = validatedOut.(consultation.ClassificationResult)
	}
	if err := r.consultations.SaveClassification(ctx, c.ID, result); err != nil {
		return r.fail(ctx, c.ID, "classifier", err)
	}
	c.Classification = result.Classification

	// Gate: report generation never runs without a resolved category.
	if result.Classification == consultation.ClassUnclassified {
		if err := r.consultations.SetStatus(ctx, c.ID, consultation.StatusClassificationPending); err != nil {
			return r.fail(ctx, c.ID, "classifier", err)
		}
		r.logger.Info("consultation parked for manual triage", "consultation_id", c.ID)
		return nil
	}

	if err := r.consultations.SetStatus(ctx, c.ID, consultation.StatusReportGenerating); err != nil {
		return r.fail(ctx, c.ID, "classifier", err)
	}
	return r.generateReport(ctx, c, "", "")
}

// Resume re-enters the pipeline at retrieval after a human resolves the
// category of a classification_pending consultation. Translate and intent
// stages are not repeated; their checkpoints are already durable.
func (r *Runner) Resume(ctx context.Context, consultationID string, class consultation.Classification) error {
	if err := r.consultations.SaveManualClassification(ctx, consultationID, class); err != nil {
		return fmt.Errorf("pipeline: save manual classification: %w", err)
	}
	c, err := r.consultations.GetByID(ctx, consultationID)
	if err != nil {
		return fmt.Errorf("pipeline: load consultation: %w", err)
	}
	r.logger.Info("pipeline resumed after manual classification",
		"consultation_id", consultationID,
		"classification", string(class),
	)
	return r.generateReport(ctx, c, "", "")
}

// Regenerate re-runs retrieval and the write/review loop for an existing
// report, steering every write attempt with the admin's direction text, and
// overwrites the report row in place.
func (r *Runner) Regenerate(ctx context.Context, reportID, direction string) error {
	rep, err := r.reports.GetByID(ctx, reportID)
	if err != nil {
		return fmt.Errorf("pipeline: load report: %w", err)
	}
	c, err := r.consultations.GetByID(ctx, rep.ConsultationID)
	if err != nil {
		return fmt.Errorf("pipeline: load consultation: %w", err)
	}
	if err := r.consultations.SetStatus(ctx, c.ID, consultation.StatusReportGenerating); err != nil {
		return fmt.Errorf("pipeline: set status: %w", err)
	}
	r.logger.Info("report regeneration started", "report_id", reportID, "consultation_id", c.ID)
	if err := r.generateReport(ctx, c, direction, reportID); err != nil {
		// The stale report must not keep looking like a reviewable draft.
		if rejErr := r.reports.Reject(ctx, reportID, err.Error()); rejErr != nil {
			r.logger.Error("failed to reject report after regeneration failure",
				"report_id", reportID,
				"error", rejErr,
			)
		}
		return err
	}
	return nil
}

// generateReport runs retrieval and the bounded write/review loop, then
// persists the report exactly once. existingReportID selects overwrite over
// create on the regenerate path.
func (r *Runner) generateReport(ctx context.Context, c *consultation.Consultation, direction, existingReportID string) error {
	keywords := retrievalKeywords(c.IntentExtraction, direction)

	sourcesOut, err := r.runStage(ctx, c.ID, "retriever", keywords, func(sctx context.Context) (any, error) {
		return r.agents.Retrieve.Retrieve(sctx, keywords, c.Classification)
	})
	if err != nil {
		return r.fail(ctx, c.ID, "retriever", err)
	}
	sources, _ := sourcesOut.([]RAGSource)

	var (
		doc           json.RawMessage
		verdict       ReviewVerdict
		revisionNotes []string
		attempts      int
	)
	for attempts = 1; attempts <= r.cfg.MaxWriteAttempts; attempts++ {
		in := WriteInput{
			Consultation:  c,
			Sources:       sources,
			Direction:     direction,
			RevisionNotes: revisionNotes,
		}
		docOut, err := r.runStage(ctx, c.ID, "report_writer", in, func(sctx context.Context) (any, error) {
			return r.agents.Write.Write(sctx, in)
		})
		if err != nil {
			return r.fail(ctx, c.ID, "report_writer", err)
		}
		doc = docOut.(json.RawMessage)

		verdictOut, err := r.runStage(ctx, c.ID, "report_reviewer", nil, func(sctx context.Context) (any, error) {
			return r.agents.Review.Review(sctx, doc, sources)
		})
		if err != nil {
			return r.fail(ctx, c.ID, "report_reviewer", err)
		}
		verdict = verdictOut.(ReviewVerdict)
		if verdict.Passed {
			break
		}
		if attempts < r.cfg.MaxWriteAttempts {
			revisionNotes = append(revisionNotes, revisionNote(verdict))
			r.logger.Info("report failed review, rewriting",
				"consultation_id", c.ID,
				"attempt", attempts,
				"score", verdict.Score,
			)
		}
	}
	if attempts > r.cfg.MaxWriteAttempts {
		attempts = r.cfg.MaxWriteAttempts
	}
	r.metrics.ObserveReviewAttempts(attempts)

	ragJSON, err := json.Marshal(sources)
	if err != nil {
		return r.fail(ctx, c.ID, "report_writer", err)
	}
	draft := &report.Draft{
		ConsultationID: c.ID,
		ReportData:     doc,
		RAGContext:     ragJSON,
		ReviewCount:    attempts,
		ReviewPassed:   verdict.Passed,
	}

	if existingReportID == "" {
		_, err = r.reports.Create(ctx, draft)
	} else {
		_, err = r.reports.Overwrite(ctx, existingReportID, draft)
	}
	if err != nil {
		return r.fail(ctx, c.ID, "report_writer", err)
	}

	if err := r.consultations.SetStatus(ctx, c.ID, consultation.StatusReportReady); err != nil {
		return r.fail(ctx, c.ID, "report_writer", err)
	}
	r.logger.Info("report ready",
		"consultation_id", c.ID,
		"review_count", attempts,
		"review_passed", verdict.Passed,
	)
	return nil
}

// runStage applies the per-stage deadline, times the call, and writes the
// audit record. Audit failures never abort the run.
func (r *Runner) runStage(ctx context.Context, consultationID, name string, input any, fn func(ctx context.Context) (any, error)) (any, error) {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	out, err := fn(sctx)
	elapsed := time.Since(start)

	status := "success"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	r.metrics.ObserveStage(name, status, elapsed.Seconds())

	entry := AuditEntry{
		ConsultationID: consultationID,
		AgentName:      name,
		Input:          toJSON(input),
		Output:         toJSON(out),
		Duration:       elapsed,
		Status:         status,
		ErrorMessage:   errMsg,
	}
	if auditErr := r.audit.Record(ctx, entry); auditErr != nil {
		r.logger.WithComponent(name).Warn("audit record failed", "error", auditErr)
	}
	return out, err
}

// fail transitions the consultation to the absorbing failure state. The
// original stage error is returned so the dispatcher can log it.
func (r *Runner) fail(ctx context.Context, consultationID, stage string, cause error) error {
	r.logger.WithComponent(stage).Error("pipeline stage failed",
		"consultation_id", consultationID,
		"error", cause,
	)
	if err := r.consultations.MarkFailed(ctx, consultationID, cause.Error()); err != nil {
		r.logger.Error("failed to persist failure state", "consultation_id", consultationID, "error", err)
	}
	return fmt.Errorf("pipeline: stage %s: %w", stage, cause)
}

// retrievalKeywords derives the retrieval query terms: the intent keywords,
// extended with the tokens of the admin's direction text on regeneration.
func retrievalKeywords(intent *consultation.IntentExtraction, direction string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(words []string) {
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	if intent != nil {
		add(intent.Keywords)
		if len(out) == 0 {
			add(intent.MainConcerns)
		}
	}
	if direction != "" {
		add(strings.Fields(direction))
	}
	return out
}

// revisionNote condenses a failing verdict into one corrective instruction
// for the next write attempt.
func revisionNote(v ReviewVerdict) string {
	parts := make([]string, 0, len(v.Issues)+1)
	if v.Feedback != "" {
		parts = append(parts, v.Feedback)
	}
	parts = append(parts, v.Issues...)
	return strings.Join(parts, " / ")
}

func toJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

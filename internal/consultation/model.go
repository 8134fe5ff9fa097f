package consultation

import (
	"strings"
	"time"
)

// Status is the consultation lifecycle state.
type Status string

const (
	StatusRegistered            Status = "registered"
	StatusProcessing            Status = "processing"
	StatusClassificationPending Status = "classification_pending"
	StatusReportGenerating      Status = "report_generating"
	StatusReportReady           Status = "report_ready"
	StatusReportApproved        Status = "report_approved"
	StatusReportSent            Status = "report_sent"
	StatusReportFailed          Status = "report_failed"
)

// Classification is the triage category assigned to a consultation.
type Classification string

const (
	ClassDermatology    Classification = "dermatology"
	ClassPlasticSurgery Classification = "plastic_surgery"
	ClassUnclassified   Classification = "unclassified"
)

// Valid reports whether the value is a known category.
func (c Classification) Valid() bool {
	switch c {
	case ClassDermatology, ClassPlasticSurgery, ClassUnclassified:
		return true
	}
	return false
}

// CTALevel is the three-tier purchase-intent signal, hot > warm > cool.
type CTALevel string

const (
	CTAHot  CTALevel = "hot"
	CTAWarm CTALevel = "warm"
	CTACool CTALevel = "cool"
)

// Valid reports whether the value is a known level.
func (l CTALevel) Valid() bool {
	switch l {
	case CTAHot, CTAWarm, CTACool:
		return true
	}
	return false
}

// SpeakerSegment is one speaker-tagged utterance from the transcript.
type SpeakerSegment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// IntentExtraction is the structured intent document produced once per
// consultation. List caps (concerns <=5, keywords <=10) are a prompt
// contract, enforced best-effort by the generator.
type IntentExtraction struct {
	MainConcerns        []string `json:"main_concerns"`
	DesiredDirection    string   `json:"desired_direction"`
	Unwanted            string   `json:"unwanted"`
	MentionedProcedures []string `json:"mentioned_procedures"`
	BodyParts           []string `json:"body_parts"`
	Keywords            []string `json:"keywords"`
}

// CTAAnalysis is the speaker-separation + purchase-intent output.
type CTAAnalysis struct {
	SpeakerSegments    []SpeakerSegment `json:"speaker_segments"`
	TranslatedSegments []SpeakerSegment `json:"translated_segments"`
	CustomerUtterances string           `json:"customer_utterances"`
	CTALevel           CTALevel         `json:"cta_level"`
	CTASignals         []string         `json:"cta_signals"`
}

// ClassificationResult carries the category decision with its confidence
// and rationale.
type ClassificationResult struct {
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
}

// Consultation is one customer interaction moving through the pipeline.
type Consultation struct {
	ID                       string            `json:"id"`
	CustomerID               string            `json:"customer_id"`
	CustomerName             string            `json:"customer_name"`
	CustomerEmail            string            `json:"customer_email"`
	CustomerLineID           string            `json:"customer_line_id"`
	OriginalText             string            `json:"original_text"`
	TranslatedText           string            `json:"translated_text,omitempty"`
	SpeakerSegments          []SpeakerSegment  `json:"speaker_segments,omitempty"`
	CustomerUtterances       string            `json:"customer_utterances,omitempty"`
	CTALevel                 CTALevel          `json:"cta_level,omitempty"`
	CTASignals               []string          `json:"cta_signals,omitempty"`
	IntentExtraction         *IntentExtraction `json:"intent_extraction,omitempty"`
	Classification           Classification    `json:"classification,omitempty"`
	ClassificationConfidence float64           `json:"classification_confidence"`
	ClassificationReason     string            `json:"classification_reason,omitempty"`
	ManuallyClassified       bool              `json:"is_manually_classified"`
	Status                   Status            `json:"status"`
	ErrorMessage             string            `json:"error_message,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// CreateRequest is the intake payload for a single consultation.
type CreateRequest struct {
	CustomerID     string `json:"customer_id"`
	CustomerName   string `json:"customer_name"`
	CustomerEmail  string `json:"customer_email"`
	CustomerLineID string `json:"customer_line_id"`
	OriginalText   string `json:"original_text"`
}

// Validate checks the intake payload.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.OriginalText) == "" {
		return ErrMissingText
	}
	return nil
}

// BulkCreateRequest registers up to MaxBulkSize consultations at once.
type BulkCreateRequest struct {
	Consultations []CreateRequest `json:"consultations"`
}

// MaxBulkSize caps a single bulk intake request.
const MaxBulkSize = 100

// Validate checks the bulk payload and each entry.
func (r *BulkCreateRequest) Validate() error {
	if len(r.Consultations) == 0 {
		return ErrEmptyBulk
	}
	if len(r.Consultations) > MaxBulkSize {
		return ErrBulkTooLarge
	}
	for i := range r.Consultations {
		if err := r.Consultations[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ListFilter narrows administrative listings.
type ListFilter struct {
	Classification string
	Status         string
	Page           int
	PageSize       int
}

// Normalize clamps pagination to sane bounds.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

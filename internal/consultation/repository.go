package consultation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for consultations. The pipeline
// uses the checkpoint writers; HTTP handlers use intake and listing.
type Repository interface {
	Create(ctx context.Context, req *CreateRequest) (*Consultation, error)
	CreateBulk(ctx context.Context, reqs []CreateRequest) ([]string, error)
	GetByID(ctx context.Context, id string) (*Consultation, error)
	List(ctx context.Context, filter ListFilter) ([]*Consultation, int, error)

	SetStatus(ctx context.Context, id string, status Status) error
	MarkFailed(ctx context.Context, id string, message string) error

	SaveTranslation(ctx context.Context, id string, translatedText string) error
	SaveCTAAnalysis(ctx context.Context, id string, cta *CTAAnalysis) error
	SaveIntent(ctx context.Context, id string, intent *IntentExtraction) error
	SaveClassification(ctx context.Context, id string, result ClassificationResult) error
	SaveManualClassification(ctx context.Context, id string, class Classification) error

	UpdateCTALevel(ctx context.Context, id string, level CTALevel) error
}

// InMemoryRepository is a map-backed Repository used in tests and local
// development without a database.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Consultation
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string]*Consultation)}
}

func (r *InMemoryRepository) Create(_ context.Context, req *CreateRequest) (*Consultation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c := &Consultation{
		ID:             uuid.New().String(),
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerLineID: req.CustomerLineID,
		OriginalText:   req.OriginalText,
		Status:         StatusRegistered,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	r.mu.Lock()
	r.items[c.ID] = c
	r.mu.Unlock()
	copied := *c
	return &copied, nil
}

func (r *InMemoryRepository) CreateBulk(ctx context.Context, reqs []CreateRequest) ([]string, error) {
	ids := make([]string, 0, len(reqs))
	for i := range reqs {
		c, err := r.Create(ctx, &reqs[i])
		if err != nil {
			return ids, err
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *InMemoryRepository) List(_ context.Context, filter ListFilter) ([]*Consultation, int, error) {
	filter.Normalize()
	r.mu.RLock()
	var matched []*Consultation
	for _, c := range r.items {
		if filter.Classification != "" && string(c.Classification) != filter.Classification {
			continue
		}
		if filter.Status != "" && string(c.Status) != filter.Status {
			continue
		}
		copied := *c
		matched = append(matched, &copied)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *InMemoryRepository) SetStatus(_ context.Context, id string, status Status) error {
	return r.mutate(id, func(c *Consultation) {
		c.Status = status
	})
}

func (r *InMemoryRepository) MarkFailed(_ context.Context, id string, message string) error {
	return r.mutate(id, func(c *Consultation) {
		c.Status = StatusReportFailed
		c.ErrorMessage = message
	})
}

func (r *InMemoryRepository) SaveTranslation(_ context.Context, id string, translatedText string) error {
	return r.mutate(id, func(c *Consultation) {
		c.TranslatedText = translatedText
	})
}

func (r *InMemoryRepository) SaveCTAAnalysis(_ context.Context, id string, cta *CTAAnalysis) error {
	return r.mutate(id, func(c *Consultation) {
		c.SpeakerSegments = cta.SpeakerSegments
		c.CustomerUtterances = cta.CustomerUtterances
		c.CTALevel = cta.CTALevel
		c.CTASignals = cta.CTASignals
	})
}

func (r *InMemoryRepository) SaveIntent(_ context.Context, id string, intent *IntentExtraction) error {
	return r.mutate(id, func(c *Consultation) {
		copied := *intent
		c.IntentExtraction = &copied
	})
}

func (r *InMemoryRepository) SaveClassification(_ context.Context, id string, result ClassificationResult) error {
	return r.mutate(id, func(c *Consultation) {
		c.Classification = result.Classification
		c.ClassificationConfidence = result.Confidence
		c.ClassificationReason = result.Reason
	})
}

func (r *InMemoryRepository) SaveManualClassification(_ context.Context, id string, class Classification) error {
	return r.mutate(id, func(c *Consultation) {
		c.Classification = class
		c.ManuallyClassified = true
		c.Status = StatusReportGenerating
	})
}

func (r *InMemoryRepository) UpdateCTALevel(_ context.Context, id string, level CTALevel) error {
	return r.mutate(id, func(c *Consultation) {
		c.CTALevel = level
	})
}

func (r *InMemoryRepository) mutate(id string, fn func(*Consultation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

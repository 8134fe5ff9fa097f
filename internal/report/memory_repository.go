package report

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is a map-backed Repository used in tests and local
// development without a database.
type InMemoryRepository struct {
	mu        sync.RWMutex
	items     map[string]*Report
	customers map[string]CustomerSummary

	// Now is swappable so expiry tests can move the clock.
	Now func() time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		items:     make(map[string]*Report),
		customers: make(map[string]CustomerSummary),
		Now:       time.Now,
	}
}

// SetCustomer registers the joined customer fields for a consultation.
func (r *InMemoryRepository) SetCustomer(consultationID string, summary CustomerSummary) {
	r.mu.Lock()
	r.customers[consultationID] = summary
	r.mu.Unlock()
}

func (r *InMemoryRepository) Create(_ context.Context, draft *Draft) (*Report, error) {
	now := r.Now().UTC()
	rep := &Report{
		ID:              uuid.New().String(),
		ConsultationID:  draft.ConsultationID,
		ReportData:      draft.ReportData,
		RAGContext:      draft.RAGContext,
		ReviewCount:     draft.ReviewCount,
		ReviewPassed:    draft.ReviewPassed,
		AccessToken:     NewAccessToken(),
		AccessExpiresAt: now.Add(AccessTTL),
		Status:          StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.mu.Lock()
	r.items[rep.ID] = rep
	r.mu.Unlock()
	copied := *rep
	return &copied, nil
}

func (r *InMemoryRepository) Overwrite(_ context.Context, reportID string, draft *Draft) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.items[reportID]
	if !ok {
		return nil, ErrNotFound
	}
	now := r.Now().UTC()
	rep.ReportData = draft.ReportData
	rep.ReportDataKo = nil
	rep.RAGContext = draft.RAGContext
	rep.ReviewCount = draft.ReviewCount
	rep.ReviewPassed = draft.ReviewPassed
	if rep.AccessToken == "" {
		rep.AccessToken = NewAccessToken()
	}
	rep.AccessExpiresAt = now.Add(AccessTTL)
	rep.Status = StatusDraft
	rep.UpdatedAt = now
	copied := *rep
	return &copied, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*WithCustomer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.joined(rep), nil
}

func (r *InMemoryRepository) GetByConsultationID(_ context.Context, consultationID string) (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rep := range r.items {
		if rep.ConsultationID == consultationID {
			copied := *rep
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) GetByToken(_ context.Context, token string) (*WithCustomer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rep := range r.items {
		if rep.AccessToken == token {
			return r.joined(rep), nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) List(_ context.Context) ([]*WithCustomer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*WithCustomer, 0, len(r.items))
	for _, rep := range r.items {
		out = append(out, r.joined(rep))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemoryRepository) Approve(_ context.Context, id string) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rep.Status != StatusDraft && rep.Status != StatusRejected {
		return nil, ErrNotApprovable
	}
	rep.Status = StatusApproved
	rep.UpdatedAt = r.Now().UTC()
	copied := *rep
	return &copied, nil
}

func (r *InMemoryRepository) Reject(_ context.Context, id string, notes string) error {
	return r.mutate(id, func(rep *Report) {
		rep.Status = StatusRejected
		rep.ReviewNotes = notes
	})
}

func (r *InMemoryRepository) UpdateData(_ context.Context, id string, data json.RawMessage) error {
	return r.mutate(id, func(rep *Report) {
		rep.ReportData = data
	})
}

func (r *InMemoryRepository) SaveTranslation(_ context.Context, id string, dataKo json.RawMessage) error {
	return r.mutate(id, func(rep *Report) {
		rep.ReportDataKo = dataKo
	})
}

func (r *InMemoryRepository) MarkSent(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(rep *Report) {
		rep.Status = StatusSent
		t := at.UTC()
		rep.EmailSentAt = &t
	})
}

func (r *InMemoryRepository) MarkOpened(_ context.Context, token string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.items {
		if rep.AccessToken == token {
			if rep.EmailOpenedAt != nil {
				return false, nil
			}
			t := at.UTC()
			rep.EmailOpenedAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryRepository) mutate(id string, fn func(*Report)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	fn(rep)
	rep.UpdatedAt = r.Now().UTC()
	return nil
}

func (r *InMemoryRepository) joined(rep *Report) *WithCustomer {
	copied := *rep
	return &WithCustomer{
		Report:   copied,
		Customer: r.customers[rep.ConsultationID],
	}
}

package report

import (
	"context"
	"encoding/json"
	"time"
)

// Repository is the persistence contract for reports. The pipeline creates
// and overwrites rows; HTTP handlers drive the approval lifecycle.
type Repository interface {
	Create(ctx context.Context, draft *Draft) (*Report, error)
	Overwrite(ctx context.Context, reportID string, draft *Draft) (*Report, error)

	GetByID(ctx context.Context, id string) (*WithCustomer, error)
	GetByConsultationID(ctx context.Context, consultationID string) (*Report, error)
	GetByToken(ctx context.Context, token string) (*WithCustomer, error)
	List(ctx context.Context) ([]*WithCustomer, error)

	Approve(ctx context.Context, id string) (*Report, error)
	Reject(ctx context.Context, id string, notes string) error
	UpdateData(ctx context.Context, id string, data json.RawMessage) error
	SaveTranslation(ctx context.Context, id string, dataKo json.RawMessage) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkOpened(ctx context.Context, token string, at time.Time) (bool, error)
}

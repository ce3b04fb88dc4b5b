package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/carelink/internal/platform/db"
)

type repoPG struct {
	q db.Querier
}

func NewRepoPG(q db.Querier) Repository {
	return &repoPG{q: q}
}

func (r *repoPG) GetRequest(ctx context.Context, id string) (*MedicalRequest, error) {
	var m MedicalRequest
	err := r.q.QueryRow(ctx,
		`SELECT id, patient_id, pharmacy_id, status FROM medical_request WHERE id = $1`, id,
	).Scan(&m.ID, &m.PatientID, &m.PharmacyID, &m.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medical request %s: %w", id, err)
	}
	return &m, nil
}

func (r *repoPG) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	var requestID *string
	err := r.q.QueryRow(ctx,
		`SELECT id, patient_id, pharmacy_id, medical_request_id, status FROM pharmacy_order WHERE id = $1`, id,
	).Scan(&o.ID, &o.PatientID, &o.PharmacyID, &requestID, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if requestID != nil {
		o.MedicalRequestID = *requestID
	}
	return &o, nil
}

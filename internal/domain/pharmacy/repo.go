package pharmacy

import "context"

// Repository reads requests and orders. Unknown ids yield ErrNotFound.
type Repository interface {
	GetRequest(ctx context.Context, id string) (*MedicalRequest, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
}

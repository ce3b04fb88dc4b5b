package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ehr/carelink/internal/platform/mongostore"
)

// References may be stored as ObjectIDs or strings depending on which
// service wrote the document.
type requestDoc struct {
	ID         interface{} `bson:"_id"`
	PatientID  interface{} `bson:"patientId"`
	PharmacyID interface{} `bson:"pharmacyId"`
	Status     string      `bson:"status"`
}

type orderDoc struct {
	ID               interface{} `bson:"_id"`
	PatientID        interface{} `bson:"patientId"`
	PharmacyID       interface{} `bson:"pharmacyId"`
	MedicalRequestID interface{} `bson:"medicalRequestId"`
	Status           string      `bson:"status"`
}

type repoMongo struct {
	requests *mongo.Collection
	orders   *mongo.Collection
}

func NewRepoMongo(db *mongo.Database) Repository {
	return &repoMongo{
		requests: db.Collection(mongostore.CollMedicalRequests),
		orders:   db.Collection(mongostore.CollOrders),
	}
}

func (r *repoMongo) GetRequest(ctx context.Context, id string) (*MedicalRequest, error) {
	var doc requestDoc
	err := r.requests.FindOne(ctx, mongostore.IDFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medical request %s: %w", id, err)
	}
	return &MedicalRequest{
		ID:         mongostore.IDString(doc.ID),
		PatientID:  mongostore.IDString(doc.PatientID),
		PharmacyID: mongostore.IDString(doc.PharmacyID),
		Status:     doc.Status,
	}, nil
}

func (r *repoMongo) GetOrder(ctx context.Context, id string) (*Order, error) {
	var doc orderDoc
	err := r.orders.FindOne(ctx, mongostore.IDFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &Order{
		ID:               mongostore.IDString(doc.ID),
		PatientID:        mongostore.IDString(doc.PatientID),
		PharmacyID:       mongostore.IDString(doc.PharmacyID),
		MedicalRequestID: mongostore.IDString(doc.MedicalRequestID),
		Status:           doc.Status,
	}, nil
}

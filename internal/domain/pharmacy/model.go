// Package pharmacy is a read-only view of medical requests and orders,
// used to authorize pharmacy chat rooms.
package pharmacy

import "errors"

var ErrNotFound = errors.New("pharmacy record not found")

// MedicalRequest ties a patient's prescription request to one pharmacy.
type MedicalRequest struct {
	ID         string `json:"id"`
	PatientID  string `json:"patientId"`
	PharmacyID string `json:"pharmacyId"`
	Status     string `json:"status"`
}

// Order is a fulfilment record; MedicalRequestID may be empty for walk-in
// orders.
type Order struct {
	ID               string `json:"id"`
	PatientID        string `json:"patientId"`
	PharmacyID       string `json:"pharmacyId"`
	MedicalRequestID string `json:"medicalRequestId,omitempty"`
	Status           string `json:"status"`
}

// RequestID returns the id that scopes the order's chat room.
func (o *Order) RequestID() string {
	if o.MedicalRequestID != "" {
		return o.MedicalRequestID
	}
	return o.ID
}

// Package changefeed pushes store-level changes of CRUD-owned entities to the
// sockets of the users that own them.
package changefeed

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by a Source when the store cannot stream
// changes at all. The bridge logs it once and stays REST-only.
var ErrUnsupported = errors.New("change streams not supported by store")

// Operation is the kind of change delivered to clients.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Entity describes one watched collection/table and who owns its rows.
type Entity struct {
	Name        string
	Event       string
	Collection  string
	Table       string
	OwnerFields []string
}

// DefaultEntities returns the entities pushed to owners. Appointments are
// owned by both the patient and the doctor.
func DefaultEntities() []Entity {
	return []Entity{
		{Name: "medication", Event: "medication-updated", Collection: "medications", Table: "medication", OwnerFields: []string{"userId"}},
		{Name: "vitals", Event: "vitals-updated", Collection: "vitals", Table: "vital", OwnerFields: []string{"userId"}},
		{Name: "appointment", Event: "appointment-updated", Collection: "appointments", Table: "appointment", OwnerFields: []string{"patientId", "doctorId"}},
		{Name: "careplan", Event: "careplan-updated", Collection: "careplans", Table: "care_plan", OwnerFields: []string{"userId"}},
		{Name: "notification", Event: "notification-updated", Collection: "notifications", Table: "notification", OwnerFields: []string{"userId"}},
		{Name: "health-record", Event: "health-record-updated", Collection: "healthrecords", Table: "health_record", OwnerFields: []string{"userId"}},
	}
}

// Change is one observed mutation. Owners are the owner user ids that could
// be resolved from the document; Document is nil for deletes.
type Change struct {
	Op       Operation
	ID       string
	Owners   []string
	Document map[string]interface{}
}

// Source opens per-entity streams against a store.
type Source interface {
	Open(ctx context.Context, entity Entity) (Stream, error)
}

// Stream yields changes until the context is cancelled or the stream fails.
type Stream interface {
	Next(ctx context.Context) (Change, error)
	Close(ctx context.Context) error
}

// Emitter is the slice of the websocket hub the bridge needs.
type Emitter interface {
	ConnectionsFor(userID string) []string
	EmitToConnection(connID, event string, payload interface{}) bool
}

// Payload is the body of an <entity>-updated event.
type Payload struct {
	Type      Operation              `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

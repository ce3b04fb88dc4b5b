package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("notification not found")
	ErrValidation = errors.New("invalid notification")
)

// Type is the closed set of notification categories.
type Type string

const (
	TypeChat                   Type = "chat"
	TypeAppointmentReminder    Type = "appointment_reminder"
	TypeAppointmentAccepted    Type = "appointment_accepted"
	TypeAppointmentDeclined    Type = "appointment_declined"
	TypeAppointmentRescheduled Type = "appointment_rescheduled"
	TypeMedicationReminder     Type = "medication_reminder"
	TypeOrderUpdate            Type = "order_update"
	TypePrescriptionUpdate     Type = "prescription_update"
	TypeSystem                 Type = "system"
)

var validTypes = map[Type]bool{
	TypeChat:                   true,
	TypeAppointmentReminder:    true,
	TypeAppointmentAccepted:    true,
	TypeAppointmentDeclined:    true,
	TypeAppointmentRescheduled: true,
	TypeMedicationReminder:     true,
	TypeOrderUpdate:            true,
	TypePrescriptionUpdate:     true,
	TypeSystem:                 true,
}

func (t Type) Valid() bool { return validTypes[t] }

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// MaxInbox caps every inbox read.
const MaxInbox = 100

// Notification is a persisted user-facing alert. Metadata carries link-back
// ids such as roomId or appointmentId.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Priority  Priority          `json:"priority"`
	IsRead    bool              `json:"isRead"`
	ReadAt    *time.Time        `json:"readAt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Request asks the Dispatcher to create and push a notification.
//
// Role is the target's role when the caller already knows it; otherwise the
// dispatcher looks it up. Data feeds the type's template when Title or
// Message is left blank and is not persisted.
type Request struct {
	UserID   string            `json:"userId"`
	Type     Type              `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Priority Priority          `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Role     string            `json:"role,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// Validate checks the request after templates have been applied.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, r.Type)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, r.Priority)
	}
	if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: title and message are required", ErrValidation)
	}
	return nil
}

func (r *Request) toNotification(now time.Time) *Notification {
	priority := r.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return &Notification{
		UserID:    r.UserID,
		Type:      r.Type,
		Title:     r.Title,
		Message:   r.Message,
		Priority:  priority,
		Metadata:  r.Metadata,
		CreatedAt: now,
	}
}

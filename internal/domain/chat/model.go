package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

// PreviewLength is the rune length a notification preview is cut to.
const PreviewLength = 100

// Message is a persisted chat message. Only IsRead is mutated after insert.
// SenderName is resolved at broadcast time and never stored.
type Message struct {
	ID               string    `json:"id"`
	SenderID         string    `json:"senderId"`
	SenderRole       string    `json:"senderRole"`
	SenderName       string    `json:"senderName,omitempty"`
	ReceiverID       string    `json:"receiverId"`
	ReceiverRole     string    `json:"receiverRole"`
	Message          string    `json:"message"`
	RoomID           string    `json:"roomId"`
	MedicalRequestID string    `json:"medicalRequestId,omitempty"`
	PharmacyID       string    `json:"pharmacyId,omitempty"`
	AppointmentID    string    `json:"appointmentId,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	IsRead           bool      `json:"isRead"`
}

// Links are the optional domain ids a message can be tagged with.
type Links struct {
	MedicalRequestID string `json:"medicalRequestId,omitempty"`
	PharmacyID       string `json:"pharmacyId,omitempty"`
	AppointmentID    string `json:"appointmentId,omitempty"`
}

// SendRequest is the generic send contract. SenderID is always the
// authenticated caller.
type SendRequest struct {
	SenderID     string
	SenderRole   string
	ReceiverID   string
	ReceiverRole string
	Text         string
	RoomID       string
	Links        Links
}

// PharmacyMessage is a message scoped to a medical request between a
// patient and a pharmacy.
type PharmacyMessage struct {
	SenderID         string
	SenderRole       string
	RoomID           string
	Text             string
	PharmacyID       string
	MedicalRequestID string
	PatientID        string
}

// InboxEvent is pushed to a pharmacy's room for every patient message.
type InboxEvent struct {
	Message          *Message `json:"message"`
	RoomID           string   `json:"roomId"`
	MedicalRequestID string   `json:"medicalRequestId"`
}

// Preview cuts text to PreviewLength runes, appending "..." when cut.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewLength]) + "..."
}

// normalizeRole maps client model names such as "Doctor" to role names.
func normalizeRole(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

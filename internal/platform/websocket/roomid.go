package websocket

import "strings"

const (
	roomSeparator         = "_"
	userRoomPrefix        = "user_"
	pharmacyRoomPrefix    = "pharmacy_"
	appointmentRoomPrefix = "appointment_"
	requestRoomInfix      = "_request_"
)

// DeriveRoomID returns the pairwise room for two participants. The ids are
// ordered lexicographically so either side computes the same room.
func DeriveRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + roomSeparator + b
}

// DerivePharmacyRequestRoomID returns the room scoped to one medical request.
// The pharmacy always comes first.
func DerivePharmacyRequestRoomID(pharmacyID, requestID string) string {
	return pharmacyRoomPrefix + pharmacyID + requestRoomInfix + requestID
}

// UserRoomID is the room every authenticated connection of a user joins.
func UserRoomID(userID string) string {
	return userRoomPrefix + userID
}

// PharmacyRoomID is the inbox room of a pharmacy.
func PharmacyRoomID(pharmacyID string) string {
	return pharmacyRoomPrefix + pharmacyID
}

// AppointmentRoomID is the fallback room for messages linked to an
// appointment when no participant pair is usable.
func AppointmentRoomID(appointmentID string) string {
	return appointmentRoomPrefix + appointmentID
}

// ParsePharmacyRequestRoomID splits a room built by
// DerivePharmacyRequestRoomID.
func ParsePharmacyRequestRoomID(room string) (pharmacyID, requestID string, ok bool) {
	rest, found := strings.CutPrefix(room, pharmacyRoomPrefix)
	if !found {
		return "", "", false
	}
	pharmacyID, requestID, ok = strings.Cut(rest, requestRoomInfix)
	if !ok || pharmacyID == "" || requestID == "" {
		return "", "", false
	}
	return pharmacyID, requestID, true
}

// IsConventionalRoomID reports whether room belongs to the user, pharmacy or
// appointment families rather than a participant pair.
func IsConventionalRoomID(room string) bool {
	return strings.HasPrefix(room, userRoomPrefix) ||
		strings.HasPrefix(room, pharmacyRoomPrefix) ||
		strings.HasPrefix(room, appointmentRoomPrefix)
}

// PairwisePeer returns the other participant when room is the pairwise room
// of userID and someone else.
func PairwisePeer(room, userID string) (string, bool) {
	if userID == "" || IsConventionalRoomID(room) {
		return "", false
	}
	if peer, ok := strings.CutPrefix(room, userID+roomSeparator); ok && peer != "" && DeriveRoomID(userID, peer) == room {
		return peer, true
	}
	if peer, ok := strings.CutSuffix(room, roomSeparator+userID); ok && peer != "" && DeriveRoomID(userID, peer) == room {
		return peer, true
	}
	return "", false
}

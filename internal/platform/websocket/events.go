package websocket

// Kind is a logical server-to-client event. One kind may be emitted under
// several wire names so older clients keep receiving it.
type Kind string

const (
	KindChatMessage     Kind = "chat.message"
	KindPharmacyMessage Kind = "chat.pharmacy_message"
	KindPharmacyInbox   Kind = "chat.pharmacy_inbox"
	KindDirectMessage   Kind = "chat.direct"
	KindNotification    Kind = "notification.new"
)

// Wire names of single-purpose server events.
const (
	EventAuthenticated           = "authenticated"
	EventChatRoomJoined          = "chat-room-joined"
	EventPharmacyChatRoomJoined  = "pharmacy-chat-room-joined"
	EventPharmacyRoomJoined      = "pharmacy-room-joined"
	EventChatError               = "chat-error"
	EventError                   = "error"
	EventUserTyping              = "user-typing"
	EventUserStoppedTyping       = "user-stopped-typing"
	EventNewNotification         = "new-notification"
	EventNewMessage              = "new-message"
	EventNewMessageLegacy        = "newMessage"
	EventPharmacyChatMessage     = "pharmacy-chat-message"
	EventNewPharmacyChatMessage  = "newPharmacyChatMessage"
	EventIncomingMessage         = "incomingMessage"
	EventPharmacyRequestsWatched = "pharmacy-requests-subscribed"
)

// EventTable maps a logical kind to the wire names it is emitted under.
type EventTable map[Kind][]string

// DefaultEventTable returns the wire mapping. With legacy on, every historical
// alias is emitted; with it off each kind has a single name.
func DefaultEventTable(legacy bool) EventTable {
	if !legacy {
		return EventTable{
			KindChatMessage:     {EventNewMessage},
			KindPharmacyMessage: {EventPharmacyChatMessage},
			KindPharmacyInbox:   {EventNewPharmacyChatMessage},
			KindDirectMessage:   {EventIncomingMessage},
			KindNotification:    {EventNewNotification},
		}
	}
	return EventTable{
		KindChatMessage:     {EventNewMessage, EventNewMessageLegacy},
		KindPharmacyMessage: {EventPharmacyChatMessage, EventNewMessage, EventNewMessageLegacy},
		KindPharmacyInbox:   {EventNewPharmacyChatMessage},
		KindDirectMessage:   {EventIncomingMessage, EventNewMessage},
		KindNotification:    {EventNewNotification},
	}
}

// Publisher emits logical events through the hub using an EventTable.
type Publisher struct {
	hub   *Hub
	table EventTable
}

// NewPublisher creates a Publisher. A nil table means DefaultEventTable(true).
func NewPublisher(hub *Hub, table EventTable) *Publisher {
	if table == nil {
		table = DefaultEventTable(true)
	}
	return &Publisher{hub: hub, table: table}
}

// Hub returns the underlying hub.
func (p *Publisher) Hub() *Hub {
	return p.hub
}

// Names returns the wire names for kind. Unmapped kinds use the kind itself.
func (p *Publisher) Names(kind Kind) []string {
	if names, ok := p.table[kind]; ok && len(names) > 0 {
		return names
	}
	return []string{string(kind)}
}

// ToRoom emits kind to every connection joined to room.
func (p *Publisher) ToRoom(room string, kind Kind, payload interface{}) {
	for _, name := range p.Names(kind) {
		p.hub.EmitToRoom(room, name, payload)
	}
}

// ToUser emits kind to every connection of userID.
func (p *Publisher) ToUser(userID string, kind Kind, payload interface{}) {
	for _, name := range p.Names(kind) {
		p.hub.EmitToUser(userID, name, payload)
	}
}

// ToConnection emits kind to one connection. It reports whether at least one
// frame was queued.
func (p *Publisher) ToConnection(connID string, kind Kind, payload interface{}) bool {
	sent := false
	for _, name := range p.Names(kind) {
		if p.hub.EmitToConnection(connID, name, payload) {
			sent = true
		}
	}
	return sent
}

// ConnectionsFor returns the local connections of userID.
func (p *Publisher) ConnectionsFor(userID string) []string {
	return p.hub.ConnectionsFor(userID)
}

// UserInRoom reports whether a connection of userID is joined to room.
func (p *Publisher) UserInRoom(userID, room string) bool {
	return p.hub.UserInRoom(userID, room)
}

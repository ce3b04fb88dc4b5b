package chat

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/carelink/internal/platform/mongostore"
)

type messageDoc struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	SenderID         interface{}        `bson:"senderId"`
	SenderRole       string             `bson:"senderRole"`
	ReceiverID       interface{}        `bson:"receiverId,omitempty"`
	ReceiverRole     string             `bson:"receiverRole,omitempty"`
	Message          string             `bson:"message"`
	RoomID           string             `bson:"roomId"`
	MedicalRequestID interface{}        `bson:"medicalRequestId,omitempty"`
	PharmacyID       interface{}        `bson:"pharmacyId,omitempty"`
	AppointmentID    interface{}        `bson:"appointmentId,omitempty"`
	Timestamp        time.Time          `bson:"timestamp"`
	IsRead           bool               `bson:"isRead"`
}

func optionalRef(id string) interface{} {
	if id == "" {
		return nil
	}
	return mongostore.RefValue(id)
}

func (d *messageDoc) toModel() *Message {
	return &Message{
		ID:               d.ID.Hex(),
		SenderID:         mongostore.IDString(d.SenderID),
		SenderRole:       d.SenderRole,
		ReceiverID:       mongostore.IDString(d.ReceiverID),
		ReceiverRole:     d.ReceiverRole,
		Message:          d.Message,
		RoomID:           d.RoomID,
		MedicalRequestID: mongostore.IDString(d.MedicalRequestID),
		PharmacyID:       mongostore.IDString(d.PharmacyID),
		AppointmentID:    mongostore.IDString(d.AppointmentID),
		Timestamp:        d.Timestamp.UTC(),
		IsRead:           d.IsRead,
	}
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(db *mongo.Database) Repository {
	return &repoMongo{coll: db.Collection(mongostore.CollChatMessages)}
}

func (r *repoMongo) Create(ctx context.Context, m *Message) error {
	doc := messageDoc{
		ID:               primitive.NewObjectID(),
		SenderID:         mongostore.RefValue(m.SenderID),
		SenderRole:       m.SenderRole,
		ReceiverID:       optionalRef(m.ReceiverID),
		ReceiverRole:     m.ReceiverRole,
		Message:          m.Message,
		RoomID:           m.RoomID,
		MedicalRequestID: optionalRef(m.MedicalRequestID),
		PharmacyID:       optionalRef(m.PharmacyID),
		AppointmentID:    optionalRef(m.AppointmentID),
		Timestamp:        m.Timestamp,
		IsRead:           m.IsRead,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	m.ID = doc.ID.Hex()
	return nil
}

func (r *repoMongo) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]*Message, int, error) {
	filter := bson.M{"roomId": roomID}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count room messages: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list room messages: %w", err)
	}
	defer cur.Close(ctx)

	var items []*Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		items = append(items, doc.toModel())
	}
	return items, int(total), cur.Err()
}

func (r *repoMongo) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	refs := mongostore.RefValues(userID)
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"roomId": roomID,
		"$or": bson.A{
			bson.M{"senderId": bson.M{"$in": refs}},
			bson.M{"receiverId": bson.M{"$in": refs}},
		},
	}, options.Count().SetLimit(1))
	return n > 0, err
}

func (r *repoMongo) MarkRoomRead(ctx context.Context, roomID, readerID string) (int, error) {
	res, err := r.coll.UpdateMany(ctx, bson.M{
		"roomId":     roomID,
		"receiverId": bson.M{"$in": mongostore.RefValues(readerID)},
		"isRead":     false,
	}, bson.M{"$set": bson.M{"isRead": true}})
	if err != nil {
		return 0, fmt.Errorf("mark room read: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (r *repoMongo) CountUnread(ctx context.Context, userID string) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{
		"receiverId": bson.M{"$in": mongostore.RefValues(userID)},
		"isRead":     false,
	})
	return int(n), err
}

package notification

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

type notificationDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    interface{}        `bson:"userId"`
	Type      string             `bson:"type"`
	Title     string             `bson:"title"`
	Message   string             `bson:"message"`
	Priority  string             `bson:"priority"`
	IsRead    bool               `bson:"isRead"`
	ReadAt    *time.Time         `bson:"readAt,omitempty"`
	Metadata  map[string]string  `bson:"metadata,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (d *notificationDoc) toModel() *Notification {
	return &Notification{
		ID:        d.ID.Hex(),
		UserID:    mongostore.IDString(d.UserID),
		Type:      Type(d.Type),
		Title:     d.Title,
		Message:   d.Message,
		Priority:  Priority(d.Priority),
		IsRead:    d.IsRead,
		ReadAt:    d.ReadAt,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
	}
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(db *mongo.Database) Repository {
	return &repoMongo{coll: db.Collection(mongostore.CollNotifications)}
}

func userFilter(userID string) bson.M {
	return bson.M{"userId": bson.M{"$in": mongostore.RefValues(userID)}}
}

func (r *repoMongo) Create(ctx context.Context, n *Notification) error {
	doc := notificationDoc{
		ID:        primitive.NewObjectID(),
		UserID:    mongostore.RefValue(n.UserID),
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Priority:  string(n.Priority),
		IsRead:    n.IsRead,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.ID = doc.ID.Hex()
	return nil
}

func (r *repoMongo) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, userFilter(userID), opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cur.Close(ctx)

	var items []*Notification
	for cur.Next(ctx) {
		var doc notificationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		items = append(items, doc.toModel())
	}
	return items, cur.Err()
}

func (r *repoMongo) CountUnread(ctx context.Context, userID string) (int, error) {
	filter := userFilter(userID)
	filter["isRead"] = false
	n, err := r.coll.CountDocuments(ctx, filter)
	return int(n), err
}

func (r *repoMongo) MarkRead(ctx context.Context, id, userID string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	filter := userFilter(userID)
	filter["_id"] = oid
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"isRead": true, "readAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) MarkAllRead(ctx context.Context, userID string) (int, error) {
	filter := userFilter(userID)
	filter["isRead"] = false
	res, err := r.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"isRead": true, "readAt": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(res.ModifiedCount), nil
}

package changefeed

import (
	"context"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/carelink/internal/platform/mongostore"
)

// MongoSource streams changes with MongoDB change streams. Standalone
// servers reject $changeStream; that surfaces as ErrUnsupported.
type MongoSource struct {
	db *mongo.Database
}

func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{db: db}
}

func (s *MongoSource) Open(ctx context.Context, entity Entity) (Stream, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	cs, err := s.db.Collection(entity.Collection).Watch(ctx, pipeline, opts)
	if err != nil {
		if mongostore.IsChangeStreamUnsupported(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("watch %s: %w", entity.Collection, err)
	}
	return &mongoStream{cs: cs, entity: entity}, nil
}

type mongoStream struct {
	cs     *mongo.ChangeStream
	entity Entity
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
	DocumentKey   struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
}

func (m *mongoStream) Next(ctx context.Context) (Change, error) {
	if !m.cs.Next(ctx) {
		if err := m.cs.Err(); err != nil {
			return Change{}, err
		}
		if err := ctx.Err(); err != nil {
			return Change{}, err
		}
		return Change{}, io.EOF
	}

	var ev changeEvent
	if err := m.cs.Decode(&ev); err != nil {
		return Change{}, fmt.Errorf("decode change event: %w", err)
	}
	return changeFromEvent(m.entity, ev), nil
}

func (m *mongoStream) Close(ctx context.Context) error {
	return m.cs.Close(ctx)
}

// changeFromEvent maps a raw change event. Replace is reported as update;
// owners come from the post-image, so deletes carry none.
func changeFromEvent(entity Entity, ev changeEvent) Change {
	c := Change{ID: mongostore.IDString(ev.DocumentKey.ID)}
	switch ev.OperationType {
	case "insert":
		c.Op = OpInsert
	case "delete":
		c.Op = OpDelete
	default:
		c.Op = OpUpdate
	}

	if ev.FullDocument == nil {
		return c
	}
	doc := make(map[string]interface{}, len(ev.FullDocument)+1)
	for k, v := range ev.FullDocument {
		doc[k] = v
	}
	doc["id"] = c.ID
	c.Document = doc

	for _, field := range entity.OwnerFields {
		if owner := mongostore.IDString(ev.FullDocument[field]); owner != "" {
			c.Owners = append(c.Owners, owner)
		}
	}
	return c
}

package user

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/carelink/internal/platform/mongostore"
)

type userDoc struct {
	ID        interface{} `bson:"_id"`
	Name      string      `bson:"name"`
	FirstName string      `bson:"firstName"`
	LastName  string      `bson:"lastName"`
	Role      string      `bson:"role"`
}

type userRepoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(db *mongo.Database) Repository {
	return &userRepoMongo{coll: db.Collection(mongostore.CollUsers)}
}

func (r *userRepoMongo) GetByID(ctx context.Context, id string) (*User, error) {
	var doc userDoc
	opts := options.FindOne().SetProjection(map[string]int{"name": 1, "firstName": 1, "lastName": 1, "role": 1})
	err := r.coll.FindOne(ctx, mongostore.IDFilter(id), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &User{
		ID:   mongostore.IDString(doc.ID),
		Name: displayName(doc.Name, doc.FirstName, doc.LastName),
		Role: doc.Role,
	}, nil
}

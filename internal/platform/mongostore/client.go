// Package mongostore holds the MongoDB plumbing shared by the Mongo-backed
// repositories and the change-stream source.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names. The CRUD-owned collections are only read.
const (
	CollChatMessages    = "chatmessages"
	CollNotifications   = "notifications"
	CollUsers           = "users"
	CollMedicalRequests = "medicalrequests"
	CollOrders          = "orders"
	CollMedications     = "medications"
	CollVitals          = "vitals"
	CollAppointments    = "appointments"
	CollCarePlans       = "careplans"
	CollHealthRecords   = "healthrecords"
)

// Connect opens a client and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("carelink").
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the fabric's own collections rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		CollChatMessages: {
			{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "isRead", Value: 1}}},
		},
		CollNotifications: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isRead", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Server error codes returned when change streams are unavailable: 40573 on a
// standalone server, 20 (IllegalOperation) on some storage engines.
const (
	codeChangeStreamNotSupported = 40573
	codeIllegalOperation         = 20
)

// IsChangeStreamUnsupported reports whether err means the deployment cannot
// serve change streams at all, as opposed to a transient failure.
func IsChangeStreamUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorCode(codeChangeStreamNotSupported) || se.HasErrorCode(codeIllegalOperation) {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "only supported on replica sets") ||
		strings.Contains(msg, "IllegalOperation")
}

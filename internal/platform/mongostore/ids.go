package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDFilter matches a document by id. Hex strings are tried as ObjectIDs so
// documents written by the CRUD layer resolve; anything else is matched as a
// plain string id.
func IDFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

// RefValues returns the values a reference field may hold for id.
func RefValues(id string) bson.A {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.A{id, oid}
	}
	return bson.A{id}
}

// RefValue is the value written for a reference to id: an ObjectID when id
// is hex, matching documents created by the CRUD layer, else the string.
func RefValue(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// IDString renders an id-like BSON value as a string. Unsupported values
// yield "".
func IDString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	case fmt.Stringer:
		return id.String()
	case int32, int64, int:
		return fmt.Sprintf("%d", id)
	default:
		return ""
	}
}

package websocket

import (
	"context"
	"encoding/json"
)

// Relay targets.
const (
	TargetRoom = "room"
	TargetUser = "user"
)

// RelayFrame is an emission forwarded between instances. Frame is the
// already-encoded envelope.
type RelayFrame struct {
	Origin string          `json:"origin"`
	Target string          `json:"target"`
	Key    string          `json:"key"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Backplane fans emissions out to other server instances sharing the same
// broker. Subscribe must return once the subscription is live and deliver
// frames until ctx is done.
type Backplane interface {
	Publish(ctx context.Context, f RelayFrame) error
	Subscribe(ctx context.Context, fn func(RelayFrame)) error
	Close() error
}

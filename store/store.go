// Package store is the backing publish/subscribe and key-value store the gateway
// forwards commands to.
package store

import (
	"context"
)

// Store is the interface that a backing store must implement. It could be backed by
// Redis or anything else offering pub/sub plus key-value writes.
type Store interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Set(ctx context.Context, topic string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

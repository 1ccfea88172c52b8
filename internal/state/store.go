package state

import "context"

// Store is the durable kv surface shared by the nonce counter, the client
// order id sequence and the session snapshot.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

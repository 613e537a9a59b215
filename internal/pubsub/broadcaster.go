package pubsub

import "context"

// Broadcaster fans a JSON document out to subscribers of a subject
type Broadcaster interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Health(ctx context.Context) error
}

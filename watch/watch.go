// Package watch delivers change notifications for memvault entries.
//
// A memory.Store configured with a Publisher emits an Event after every
// committed save or delete. Events carry the namespace and id only, never
// the value: subscribers that want the new value load it themselves with
// their own key.
//
// Two implementations are provided:
//   - InMemory: goroutine fan-out within one process
//   - Postgres: LISTEN/NOTIFY, across processes sharing a database
//
// Delivery is best-effort. Events published while nobody listens are lost.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when operations are attempted on a closed bus.
	ErrClosed = errors.New("watch: bus is closed")
)

// Op is the kind of change.
type Op string

const (
	OpSave   Op = "save"
	OpDelete Op = "delete"
)

// Event describes one committed change.
type Event struct {
	ID        string    `json:"id"`
	Op        Op        `json:"op"`
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	At        time.Time `json:"at"`
}

// NewEvent returns an Event with a fresh ID and the current time.
func NewEvent(op Op, namespace, key string) Event {
	return Event{
		ID:        uuid.NewString(),
		Op:        op,
		Namespace: namespace,
		Key:       key,
		At:        time.Now().UTC(),
	}
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

// Publisher publishes events.
type Publisher interface {
	// Publish delivers e to every active subscriber of e.Namespace and to
	// every subscriber of all namespaces. It does not wait for handlers.
	Publish(ctx context.Context, e Event) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Subscriber registers handlers for events.
type Subscriber interface {
	// Subscribe calls handler for every event in namespace, or in every
	// namespace if namespace is empty. The handler runs in its own
	// goroutine per event and must not assume ordering.
	//
	// The subscription lasts until ctx is canceled or Close is called.
	Subscribe(ctx context.Context, namespace string, handler func(Event)) error

	// Close releases any resources held by the subscriber and stops all handlers.
	Close() error
}

// Bus combines Publisher and Subscriber.
type Bus interface {
	Publisher
	Subscriber
}

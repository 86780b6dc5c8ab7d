package subscribe

import (
	"fmt"

	"github.com/google/uuid"
)

// Subscriber receives change notifications for a path.
type Subscriber interface {
	// ID identifies the subscriber. Registering two subscribers with the
	// same ID at the same path keeps only the first.
	ID() string

	// OnChange is called with snapshots of the new and old values. The
	// subscriber owns both snapshots.
	OnChange(newValue, oldValue any) error
}

// Callback is the function form of a subscriber.
type Callback func(newValue, oldValue any) error

// New wraps fn as a Subscriber with a random ID.
func New(fn Callback) Subscriber {
	return &funcSubscriber{id: uuid.NewString(), fn: fn}
}

// WithID wraps fn as a Subscriber with a caller-chosen ID.
func WithID(id string, fn Callback) Subscriber {
	return &funcSubscriber{id: id, fn: fn}
}

type funcSubscriber struct {
	id string
	fn Callback
}

func (s *funcSubscriber) ID() string { return s.id }

func (s *funcSubscriber) OnChange(newValue, oldValue any) error {
	if s.fn == nil {
		return nil
	}
	return s.fn(newValue, oldValue)
}

// SubscriberError reports a subscriber that failed during fan-out.
type SubscriberError struct {
	Path         string // subscription path
	Match        string // "exact", "deep" or "global"
	SubscriberID string
	Err          error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %s on %q (%s): %v", e.SubscriberID, e.Path, e.Match, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking subscriber.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("subscriber panicked: %v", e.Value)
}

package ports

import "context"

// Artifact is a fully rendered export ready to hand to the user.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Deliverer hands a rendered artifact to the user. Implementations must not leave
// a partially written file behind on failure.
type Deliverer interface {
	Deliver(ctx context.Context, a Artifact) error
}

// NamedDeliverer is a Deliverer that may store an artifact under a different
// name than requested, for example to avoid replacing an earlier file. It
// returns the name actually used.
type NamedDeliverer interface {
	Deliverer
	DeliverNamed(ctx context.Context, a Artifact) (string, error)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, a Artifact) error

func (f DelivererFunc) Deliver(ctx context.Context, a Artifact) error { return f(ctx, a) }

package models

import (
	"context"
)

// Channel records how a payload reached the pipeline.
type Channel string

const (
	ChannelPush Channel = "push" // producer called the ingest endpoint
	ChannelPull Channel = "pull" // fetched by the pull scheduler
)

// String returns the string representation of a Channel.
func (c Channel) String() string {
	return string(c)
}

// IsValid returns true if the channel is known.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelPull:
		return true
	default:
		return false
	}
}

// Provenance carries who submitted a payload and through which channel.
type Provenance struct {
	Channel Channel

	// Producer is the authenticated producer subject, empty when auth is off
	// or for pull-mode fetches.
	Producer string
}

type provenanceKey struct{}

// WithProvenance returns a new context with provenance information attached.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// GetProvenance retrieves provenance information from the context.
// Defaults to the push channel when none is attached.
func GetProvenance(ctx context.Context) Provenance {
	p, ok := ctx.Value(provenanceKey{}).(Provenance)
	if !ok || !p.Channel.IsValid() {
		p.Channel = ChannelPush
	}
	return p
}

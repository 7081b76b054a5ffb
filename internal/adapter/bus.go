// Package adapter fans broadcasts out to local sessions and, through a
// pluggable pub/sub bus, to peer gateway nodes.
package adapter

import "context"

// Bus is the pluggable backend that republishes broadcasts across nodes.
// Implementations must deliver a published payload to every subscriber of
// the channel, including the publisher's own subscription.
type Bus interface {
	// Publish sends the payload to every subscriber of the channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers a handler for the channel and returns a cancel
	// function that unregisters it.
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (cancel func(), err error)
}

// channelPrefix namespaces bus channels so unrelated traffic on a shared
// backend never collides with broadcast envelopes.
const channelPrefix = "undertow."

// ChannelFor returns the bus channel carrying one namespace's broadcasts.
func ChannelFor(namespace string) string {
	return channelPrefix + namespace
}

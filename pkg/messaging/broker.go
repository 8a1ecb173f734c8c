package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channels the consent core publishes on.
const (
	ChannelNotifications = "notifications"
	ChannelConsentEvents = "consent-events"
)

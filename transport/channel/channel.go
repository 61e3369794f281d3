// Package channel broadcasts through an in-process gochannel pub/sub. Viewers
// only see comments persisted by a consumer in the same process.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/commentflow/transport"
)

const TransportName = "channel"

// outputBuffer lets a slow SSE client lag a little before the publisher blocks.
const outputBuffer = 64

// Factory is swapped in tests.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: outputBuffer}, logger)
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

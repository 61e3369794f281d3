package broadcast

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	"github.com/drblury/commentflow/internal/runtime/logging"
)

const relayHandlerName = "broadcast_relay"

// Relay copies broadcasts from the shared transport onto an in-process
// pub/sub, so any number of SSE clients share one transport subscription.
type Relay struct {
	topic  string
	local  *gochannel.GoChannel
	router *message.Router
	log    logging.ServiceLogger
}

func NewRelay(source message.Subscriber, topic string, log logging.ServiceLogger) (*Relay, error) {
	if source == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	wmLogger := logging.NewWatermillAdapter(log)
	local := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddHandler(relayHandlerName, topic, source, topic, local, message.PassthroughHandler)

	return &Relay{
		topic:  topic,
		local:  local,
		router: router,
		log:    logging.Component(log, "broadcast_relay", logging.LogFields{"topic": topic}),
	}, nil
}

// Subscriber is what SSE handlers subscribe to.
func (r *Relay) Subscriber() message.Subscriber {
	return r.local
}

func (r *Relay) Topic() string {
	return r.topic
}

// Running is closed once the relay is consuming from the transport.
func (r *Relay) Running() <-chan struct{} {
	return r.router.Running()
}

// Run relays until ctx ends, then closes the local pub/sub.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("Broadcast relay starting", nil)
	defer func() {
		if err := r.local.Close(); err != nil {
			r.log.Error("Local broadcast pub/sub not closed", err, nil)
		}
	}()
	return r.router.Run(ctx)
}

// Package http broadcasts by POSTing each comment to a webhook URL and
// receives broadcasts on an embedded HTTP server, one route per topic.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/commentflow/transport"
)

const TransportName = "http"

var errPublisherURLRequired = errors.New("http publisher url is required")

// Factories are swapped in tests.
var (
	PublisherFactory = func(cfg wmhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return wmhttp.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(addr string, cfg wmhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return wmhttp.NewSubscriber(addr, cfg, logger)
	}
)

func init() {
	transport.Register(TransportName, Build, transport.HTTPCapabilities)
}

// TopicURL joins the webhook base URL and a topic.
func TopicURL(base, topic string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(topic, "/")
}

// serverStarter is the part of the watermill HTTP subscriber that owns the
// listener.
type serverStarter interface {
	StartHTTPServer() error
}

// lazySubscriber starts the listener after the first route is registered.
type lazySubscriber struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *lazySubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	if starter, ok := s.Subscriber.(serverStarter); ok {
		s.once.Do(func() {
			go func() {
				if err := starter.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					s.logger.Error("Broadcast HTTP server stopped", err, nil)
				}
			}()
		})
	}
	return ch, nil
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	base := cfg.GetHTTPPublisherURL()
	if base == "" {
		return transport.Transport{}, errPublisherURLRequired
	}

	publisher, err := PublisherFactory(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return wmhttp.DefaultMarshalMessageFunc(TopicURL(base, topic), msg)
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	addr := cfg.GetHTTPServerAddress()
	if addr == "" {
		return transport.Transport{Publisher: publisher}, nil
	}
	subscriber, err := SubscriberFactory(addr, wmhttp.SubscriberConfig{
		UnmarshalMessageFunc: wmhttp.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &lazySubscriber{Subscriber: subscriber, logger: logger},
	}, nil
}

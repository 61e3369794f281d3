package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/commentflow/internal/runtime/config"
	"github.com/drblury/commentflow/transport"
	"github.com/drblury/commentflow/transport/transporttest"
)

type startingSubscriber struct {
	transporttest.Subscriber
	started chan struct{}
}

func (s *startingSubscriber) StartHTTPServer() error {
	close(s.started)
	return nethttp.ErrServerClosed
}

func stub(t *testing.T) (*wmhttp.PublisherConfig, *startingSubscriber, *string) {
	t.Helper()
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	pubCfg := &wmhttp.PublisherConfig{}
	sub := &startingSubscriber{started: make(chan struct{})}
	addr := new(string)
	PublisherFactory = func(cfg wmhttp.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		*pubCfg = cfg
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(a string, _ wmhttp.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		*addr = a
		return sub, nil
	}
	return pubCfg, sub, addr
}

func TestRegisteredOnImport(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.False(t, transport.CapabilitiesOf(TransportName).Fanout)
}

func TestTopicURL(t *testing.T) {
	assert.Equal(t, "http://viewer:8081/comments.received", TopicURL("http://viewer:8081/", "comments.received"))
	assert.Equal(t, "http://viewer:8081/comments.received", TopicURL("http://viewer:8081", "/comments.received"))
}

func TestBuildPostsToTopicURL(t *testing.T) {
	pubCfg, _, _ := stub(t)

	_, err := Build(context.Background(), &config.BroadcastConfig{HTTPPublisherURL: "http://viewer:8081/"}, watermill.NopLogger{})
	require.NoError(t, err)

	req, err := pubCfg.MarshalMessageFunc("comments.received", message.NewMessage("m-1", []byte(`{"id":"x"}`)))
	require.NoError(t, err)
	assert.Equal(t, nethttp.MethodPost, req.Method)
	assert.Equal(t, "http://viewer:8081/comments.received", req.URL.String())
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x"}`, string(body))
}

func TestBuildWithoutServerIsPublishOnly(t *testing.T) {
	stub(t)
	tr, err := Build(context.Background(), &config.BroadcastConfig{HTTPPublisherURL: "http://viewer:8081"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.Nil(t, tr.Subscriber)
}

func TestSubscriberStartsServerAfterFirstRoute(t *testing.T) {
	_, sub, addr := stub(t)
	tr, err := Build(context.Background(), &config.BroadcastConfig{
		HTTPPublisherURL:  "http://viewer:8081",
		HTTPServerAddress: ":8081",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, ":8081", *addr)

	select {
	case <-sub.started:
		t.Fatal("server started before any route was registered")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = tr.Subscriber.Subscribe(ctx, "comments.received")
	require.NoError(t, err)
	<-sub.started
	assert.Equal(t, []string{"comments.received"}, sub.Topics)
}

func TestBuildRequiresPublisherURL(t *testing.T) {
	_, err := Build(context.Background(), &config.BroadcastConfig{}, watermill.NopLogger{})
	assert.True(t, errors.Is(err, errPublisherURLRequired))
}

package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/commentflow/transport"
)

type closer struct {
	closed int
	err    error
}

func (c *closer) Publish(string, ...*message.Message) error { return nil }
func (c *closer) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, nil
}
func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestTransportCloseSharedPubSubOnce(t *testing.T) {
	c := &closer{}
	tr := transport.Transport{Publisher: c, Subscriber: c}
	assert.NoError(t, tr.Close())
	assert.Equal(t, 1, c.closed)
}

func TestTransportCloseJoinsErrors(t *testing.T) {
	pub := &closer{err: errors.New("pub")}
	sub := &closer{err: errors.New("sub")}
	err := transport.Transport{Publisher: pub, Subscriber: sub}.Close()
	assert.ErrorContains(t, err, "pub")
	assert.ErrorContains(t, err, "sub")
	assert.Equal(t, 1, sub.closed)
}

func TestTransportCloseGoChannel(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	assert.NoError(t, transport.Transport{Publisher: ps, Subscriber: ps}.Close())
	assert.NoError(t, transport.Transport{}.Close())
}

package runtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"

	"github.com/drblury/commentflow/internal/broadcast"
	"github.com/drblury/commentflow/internal/broker"
	"github.com/drblury/commentflow/internal/comments"
	configpkg "github.com/drblury/commentflow/internal/runtime/config"
	"github.com/drblury/commentflow/internal/store"
)

type RabbitMQSuite struct {
	suite.Suite
	pool     *dockertest.Pool
	resource *dockertest.Resource
	url      string
}

func TestRabbitMQPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	suite.Run(t, new(RabbitMQSuite))
}

func (s *RabbitMQSuite) SetupSuite() {
	pool, err := dockertest.NewPool("")
	if err != nil {
		s.T().Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		s.T().Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "rabbitmq",
		Tag:        "3.13-alpine",
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	s.Require().NoError(err)
	_ = resource.Expire(300)

	s.pool = pool
	s.resource = resource
	s.url = fmt.Sprintf("amqp://guest:guest@%s/", resource.GetHostPort("5672/tcp"))

	err = pool.Retry(func() error {
		conn, err := amqp.Dial(s.url)
		if err != nil {
			return err
		}
		return conn.Close()
	})
	s.Require().NoError(err)
}

func (s *RabbitMQSuite) TearDownSuite() {
	if s.pool != nil && s.resource != nil {
		if err := s.pool.Purge(s.resource); err != nil {
			s.T().Logf("purge rabbitmq container: %v", err)
		}
	}
}

func (s *RabbitMQSuite) config() *configpkg.Config {
	cfg := testConfig(s.T())
	suffix := uuid.NewString()[:8]
	cfg.Broker.URL = s.url
	cfg.Broker.QueueName = "comments-" + suffix
	cfg.Broker.DeadLetterExchange = "comments.dlx-" + suffix
	cfg.Broker.DeadLetterQueue = "comments.dead-" + suffix
	cfg.Broker.ReconnectDelay = 100 * time.Millisecond
	return cfg
}

func (s *RabbitMQSuite) startConsumer(cfg *configpkg.Config, pubsub *gochannel.GoChannel) {
	db := openDB(s.T(), cfg)
	svc, err := NewService(cfg, nopLogger(), configpkg.RoleConsumer, ServiceDependencies{
		DB:         db,
		Transports: memoryTransports(pubsub),
	})
	s.Require().NoError(err)

	cancel, done := runAsync(s.T(), svc, configpkg.RoleConsumer)
	s.T().Cleanup(func() {
		cancel()
		s.NoError(waitDone(s.T(), done))
	})
}

func (s *RabbitMQSuite) TestProducedCommentIsPersistedAndBroadcast() {
	cfg := s.config()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	broadcasts, err := pubsub.Subscribe(context.Background(), cfg.Broadcast.Topic)
	s.Require().NoError(err)
	s.startConsumer(cfg, pubsub)

	producer := broker.NewProducer(cfg.Broker, nopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go func() { _ = producer.Run(ctx) }()
	defer func() { _ = producer.Close() }()

	env := comments.Envelope{Id: uuid.New(), UserName: "alice", Email: "alice@example.com", Text: "over the wire"}
	s.Require().NoError(producer.PublishContext(ctx, env))

	select {
	case msg := <-broadcasts:
		msg.Ack()
		s.Equal(env.Id.String(), msg.Metadata.Get(broadcast.MetadataKeyCommentID))
	case <-ctx.Done():
		s.FailNow("comment was not broadcast")
	}

	db := openDB(s.T(), cfg)
	var stored store.Comment
	s.Require().NoError(db.First(&stored, "id = ?", env.Id.String()).Error)
	s.Equal("over the wire", stored.Text)
}

func (s *RabbitMQSuite) TestUndecodablePayloadIsDeadLettered() {
	cfg := s.config()
	s.startConsumer(cfg, gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}))

	// wait for the consumer to declare the topology
	s.Require().Eventually(func() bool {
		_, err := broker.InspectDeadLetters(cfg.Broker, 0)
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	conn, err := amqp.Dial(s.url)
	s.Require().NoError(err)
	defer conn.Close()
	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Require().NoError(ch.PublishWithContext(ctx, "", cfg.Broker.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    "broken-1",
		Body:         []byte("{not json"),
	}))

	var report broker.DeadLetterReport
	s.Require().Eventually(func() bool {
		report, err = broker.InspectDeadLetters(cfg.Broker, 1)
		return err == nil && report.Messages == 1
	}, 10*time.Second, 100*time.Millisecond)
	s.Require().Len(report.Sample, 1)
	s.Equal("broken-1", report.Sample[0].MessageID)
	s.Equal("{not json", string(report.Sample[0].Body))
}

// Package aws broadcasts through an SNS topic. Each process subscribes its own
// SQS queue to the topic so every API instance sees every comment. Setting an
// endpoint targets LocalStack.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/commentflow/transport"
)

const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	accountIDLength     = 12
	maxTopicName        = 256
	maxQueueName        = 80
)

// Hooks swapped in tests.
var (
	ConfigLoader         = awsconfig.LoadDefaultConfig
	TopicResolverFactory = func(accountID, region string) (sns.TopicResolver, error) {
		return sns.NewGenerateArnTopicResolver(accountID, region)
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
	InstanceID = watermill.NewShortUUID
)

func init() {
	transport.Register(TransportName, Build, transport.AWSCapabilities)
}

// TopicName maps a broadcast topic onto the SNS naming rules: letters,
// digits, hyphens and underscores.
func TopicName(topic string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, topic)
	if len(name) > maxTopicName {
		name = name[:maxTopicName]
	}
	return name
}

// QueueName is the per-process SQS queue subscribed to an SNS topic.
func QueueName(topicName, instance string) string {
	suffix := "-" + instance
	if len(topicName)+len(suffix) > maxQueueName {
		topicName = topicName[:maxQueueName-len(suffix)]
	}
	return topicName + suffix
}

type namedTopicResolver struct {
	inner sns.TopicResolver
}

func (r namedTopicResolver) ResolveTopic(ctx context.Context, topic string) (sns.TopicArn, error) {
	return r.inner.ResolveTopic(ctx, TopicName(topic))
}

func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	awsCfg, err := loadConfig(ctx, cfg)
	if err != nil {
		logger.Error("AWS config not loaded", err, watermill.LogFields{"region": cfg.GetAWSRegion()})
		return transport.Transport{}, err
	}

	accountID := resolveAccountID(cfg, logger)
	inner, err := TopicResolverFactory(accountID, awsCfg.Region)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("sns topic resolver: %w", err)
	}
	resolver := namedTopicResolver{inner: inner}

	snsOpts, sqsOpts, err := endpointOptions(cfg)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("Building AWS broadcast transport", watermill.LogFields{
		"region":          awsCfg.Region,
		"account_id":      accountID,
		"custom_endpoint": cfg.GetAWSEndpoint() != "",
	})

	publisher, err := PublisherFactory(sns.PublisherConfig{
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		TopicResolver: resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	instance := InstanceID()
	subscriber, err := SubscriberFactory(sns.SubscriberConfig{
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		TopicResolver: resolver,
		GenerateSqsQueueName: func(_ context.Context, arn sns.TopicArn) (string, error) {
			name, err := sns.ExtractTopicNameFromTopicArn(arn)
			if err != nil {
				return "", err
			}
			return QueueName(string(name), instance), nil
		},
	}, sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    sqsOpts,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func loadConfig(ctx context.Context, cfg transport.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: key, SecretAccessKey: secret, Source: "commentflow-config"}, nil
			})))
	}

	awsCfg, err := ConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

// resolveAccountID falls back to the LocalStack account when an endpoint is
// configured and the account id is missing or malformed.
func resolveAccountID(cfg transport.Config, logger watermill.LoggerAdapter) string {
	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	if cfg.GetAWSEndpoint() == "" || len(accountID) == accountIDLength {
		return accountID
	}
	logger.Info("Using LocalStack account id", watermill.LogFields{"configured": accountID})
	return localstackAccountID
}

func endpointOptions(cfg transport.Config) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	raw := cfg.GetAWSEndpoint()
	if raw == "" {
		return nil, nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, nil, fmt.Errorf("invalid aws endpoint %q", raw)
	}
	endpoint := smithyendpoints.Endpoint{URI: *u}
	return []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: endpoint}),
		}, []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: endpoint}),
		}, nil
}

package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"tigon-control-plane/heartbeat"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Publisher publishes liveness failure envelopes to a Pub/Sub topic.
type Publisher struct {
	projectID string
	topicName string
	credsFile string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, topicName, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, topicName: topicName, credsFile: credsFile}
}

func (p *Publisher) init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}
	var (
		client *gpubsub.Client
		err    error
	)
	if p.credsFile != "" {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.topicName).Str("credsFile", p.credsFile).Msg("initializing pubsub publisher with explicit credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID, option.WithCredentialsFile(p.credsFile))
	} else {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.topicName).Msg("initializing pubsub publisher with default credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID)
	}
	if err != nil {
		log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.topicName).Msg("failed to create pubsub client for publisher")
		return err
	}
	p.client = client
	p.topic = client.Topic(p.topicName)
	log.Info().Str("topic", p.topicName).Msg("pubsub publisher initialized")
	return nil
}

func (p *Publisher) PublishFailure(ctx context.Context, env *heartbeat.FailureEnvelope) error {
	if err := p.init(ctx); err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Interface("envelope", env).Msg("failed to marshal failure envelope")
		return err
	}
	// Publish and wait for server ack
	r := p.topic.Publish(ctx, &gpubsub.Message{
		Data:       b,
		Attributes: map[string]string{"kind": env.Kind},
	})
	id, err := r.Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("kind", env.Kind).Msg("failed to publish failure envelope")
		return err
	}
	log.Debug().Str("messageID", id).Str("kind", env.Kind).Int("missing", len(env.Missing)).Msg("published failure envelope")
	return nil
}

// Close stops the topic's publish goroutines and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	p.topic.Stop()
	return p.client.Close()
}

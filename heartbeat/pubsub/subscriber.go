package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"tigon-control-plane/heartbeat"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Subscriber receives heartbeat messages from a Pub/Sub subscription.
type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *heartbeat.Message) error) error {
	if s.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if s.credsFile != "" {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Str("credsFile", s.credsFile).Msg("initializing pubsub subscriber with explicit credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
		} else {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("initializing pubsub subscriber with default credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub subscriber initialized")
	}

	// Receive blocks until ctx is cancelled. Every message is acked,
	// including invalid ones.
	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		var msg heartbeat.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Error().Err(err).Str("messageID", m.ID).Msg("failed to unmarshal heartbeat message")
			m.Ack()
			return
		}
		if err := msg.Validate(); err != nil {
			log.Warn().Err(err).Str("processId", msg.ProcessID).Msg("invalid heartbeat payload")
			m.Ack()
			return
		}
		recvAt := time.Now()
		if err := handler(ctx, &msg); err != nil {
			log.Error().Err(err).Str("processId", msg.ProcessID).Msg("heartbeat handler failed")
		}
		log.Debug().Str("processId", msg.ProcessID).Str("kind", string(msg.Kind)).Dur("latency", time.Since(recvAt)).Msg("heartbeat handled")
		m.Ack()
	})
}

// Package heartbeat carries liveness traffic between monitored processes
// and the monitor: register/ping messages in, failure reports out.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tigon-control-plane/liveness"
)

type Kind string

const (
	KindRegister Kind = "register"
	KindPing     Kind = "ping"
)

// Message is sent by a monitored process.
type Message struct {
	ProcessID string    `json:"processId"`
	Kind      Kind      `json:"kind"`
	SentAt    time.Time `json:"sentAt,omitempty"`
}

func (m *Message) Validate() error {
	if m.ProcessID == "" {
		return errors.New("heartbeat: processId is empty")
	}
	switch m.Kind {
	case KindRegister, KindPing:
		return nil
	default:
		return fmt.Errorf("heartbeat: unknown kind %q", m.Kind)
	}
}

// FailureEnvelope is the published form of a liveness.Report.
type FailureEnvelope struct {
	EnvelopeVersion string    `json:"envelopeVersion"`
	Type            string    `json:"type"`
	Kind            string    `json:"kind"`
	Missing         []string  `json:"missing,omitempty"`
	DetectedAt      time.Time `json:"detectedAt"`
}

func NewFailureEnvelope(r liveness.Report) *FailureEnvelope {
	env := &FailureEnvelope{
		EnvelopeVersion: "1.0",
		Type:            "liveness-failure",
		Kind:            r.Kind.String(),
		DetectedAt:      r.DetectedAt,
	}
	for _, id := range r.Missing {
		env.Missing = append(env.Missing, string(id))
	}
	return env
}

// Sink receives decoded heartbeat traffic; *liveness.Monitor implements it.
type Sink interface {
	Register(id liveness.ProcessID)
	Ping(id liveness.ProcessID)
}

// Apply validates msg and forwards it to sink.
func Apply(sink Sink, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	id := liveness.ProcessID(msg.ProcessID)
	if msg.Kind == KindRegister {
		sink.Register(id)
	} else {
		sink.Ping(id)
	}
	return nil
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *Message) error) error
}

type Publisher interface {
	PublishFailure(ctx context.Context, env *FailureEnvelope) error
}

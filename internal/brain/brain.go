// Package brain runs one learner turn end to end: classify, pick an agent,
// hand off, persist.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/caps-tutor/internal/agent"
	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/metrics"
	"github.com/ashureev/caps-tutor/internal/store"
	"github.com/ashureev/caps-tutor/internal/transcript"
)

// EmergencyMessage is returned when neither the chosen agent nor the
// conversation agent could answer.
const EmergencyMessage = "Sorry, I ran into a problem on my side. Please send your message again in a moment."

// ExpectRetry is the expectation attached to the emergency message.
const ExpectRetry = "retry"

// Turn outcomes recorded in metrics.
const (
	outcomeOK           = "ok"
	outcomeFallback     = "fallback"
	outcomeRoutingError = "routing_error"
	outcomeEmergency    = "emergency"
)

var errEmptyResponse = errors.New("agent returned an empty response")

// Classifier turns a message into an intent. intent.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, message string, sess *domain.Session) domain.Intent
}

// Option configures a Brain.
type Option func(*Brain)

// WithTranscript records every turn to l.
func WithTranscript(l transcript.Logger) Option {
	return func(b *Brain) { b.transcript = l }
}

// WithMetrics records turn metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Brain) { b.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) { b.logger = l }
}

// WithCurriculum sets the curriculum used to pick specialists. The embedded
// table is used by default.
func WithCurriculum(l *curriculum.Lookup) Option {
	return func(b *Brain) { b.curriculum = l }
}

// WithChannel names the transport turns arrive on, for transcripts.
func WithChannel(name string) Option {
	return func(b *Brain) { b.channel = name }
}

// Brain is the router. It is safe for concurrent use; turns for the same
// user are serialised.
type Brain struct {
	classifier Classifier
	store      store.SessionStore
	registry   *agent.Registry
	curriculum *curriculum.Lookup
	transcript transcript.Logger
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	channel    string
	locks      *keyedMutex
}

// New creates a Brain.
func New(classifier Classifier, sessions store.SessionStore, registry *agent.Registry, opts ...Option) *Brain {
	b := &Brain{
		classifier: classifier,
		store:      sessions,
		registry:   registry,
		transcript: transcript.Noop{},
		logger:     slog.Default(),
		now:        time.Now,
		channel:    "api",
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.curriculum == nil {
		b.curriculum = curriculum.MustDefault()
	}
	return b
}

// HandleTurn processes one inbound message. It always returns a usable reply;
// failures degrade to the conversation agent and then to EmergencyMessage.
func (b *Brain) HandleTurn(ctx context.Context, turn domain.InboundTurn) domain.OutboundTurn {
	start := b.now()
	turnID := uuid.NewString()

	unlock := b.locks.Lock(turn.UserID)
	defer unlock()

	b.transcript.Log(transcript.Event{
		Timestamp:  start.UTC(),
		TurnID:     turnID,
		UserID:     turn.UserID,
		Channel:    b.channel,
		Direction:  transcript.Inbound,
		ContentRaw: turn.Message,
		Metadata:   imageMetadata(turn.ImageURL),
	})

	prior, err := b.store.Get(ctx, turn.UserID)
	if err != nil {
		b.logger.Error("Failed to load session", "user_id", turn.UserID, "error", err)
		return b.finish(turnID, turn, domain.Intent{}, emergency(), "", outcomeEmergency, start)
	}

	in := b.classifier.Classify(ctx, turn.Message, prior)

	sess, err := b.store.Update(ctx, turn.UserID, func(s *domain.Session) {
		if domain.Known(in.Subject) {
			s.Subject = in.Subject
		}
		if domain.Known(in.Grade) {
			s.Grade = in.Grade
		}
		if turn.UserName != "" {
			s.UserName = turn.UserName
		}
		s.AppendHistory("user", turn.Message, start)
	})
	if err != nil {
		b.logger.Error("Failed to merge session", "user_id", turn.UserID, "error", err)
		return b.finish(turnID, turn, in, emergency(), "", outcomeEmergency, start)
	}

	target := Decide(in, b.curriculum)
	hc := agent.HandoffContext{
		Turn:          turn,
		Intent:        in,
		Session:       sess,
		Agent:         target.Name(),
		PreviousAgent: prior.CurrentAgent,
		Confidence:    in.Confidence,
		HandoffAt:     b.now(),
	}

	b.logger.Info("Routing turn",
		"user_id", turn.UserID,
		"turn_id", turnID,
		"intent", in.Category,
		"confidence", in.Confidence,
		"source", in.Source,
		"agent", target.Name(),
		"previous_agent", prior.CurrentAgent,
	)

	resp, handledBy, outcome := b.Route(ctx, turn.UserID, hc, target)

	if _, err := b.store.Update(ctx, turn.UserID, func(s *domain.Session) {
		if handledBy != "" {
			s.CurrentAgent = handledBy
		}
		s.LastExpectation = resp.Expectation
		s.AppendHistory("assistant", resp.Text, b.now())
	}); err != nil {
		b.logger.Error("Failed to persist turn", "user_id", turn.UserID, "error", err)
	}

	return b.finish(turnID, turn, in, resp, handledBy, outcome, start)
}

// Route invokes the target agent. If it is missing, fails, panics or returns
// nothing, the turn is retried once against the conversation agent with the
// routing error recorded; if that fails too the emergency reply is returned.
// It reports the name of the agent that answered ("" for the emergency reply)
// and the turn outcome.
func (b *Brain) Route(ctx context.Context, userID string, hc agent.HandoffContext, target Target) (agent.Response, string, string) {
	a, err := b.resolve(target)
	if err == nil {
		var resp agent.Response
		resp, err = invoke(ctx, a, userID, hc)
		if err == nil {
			outcome := outcomeOK
			if resp.Fallback {
				outcome = outcomeFallback
			}
			return resp, a.Name(), outcome
		}
	}

	b.logger.Warn("Agent failed, falling back to conversation agent",
		"user_id", userID,
		"intended_agent", target.Name(),
		"error", err,
	)
	b.metrics.ObserveRouteFallback(target.Name())

	hc.RoutingError = true
	hc.IntendedAgent = target.Name()
	hc.Agent = string(agent.Conversation)

	conv, cerr := b.registry.Get(agent.Conversation)
	if cerr == nil {
		var resp agent.Response
		resp, cerr = invoke(ctx, conv, userID, hc)
		if cerr == nil {
			if resp.Metadata == nil {
				resp.Metadata = make(map[string]any)
			}
			resp.Metadata["routing_error"] = true
			resp.Metadata["intended_agent"] = target.Name()
			return resp, conv.Name(), outcomeRoutingError
		}
	}

	b.logger.Error("Conversation fallback failed, sending emergency reply",
		"user_id", userID,
		"intended_agent", target.Name(),
		"error", cerr,
	)
	resp := emergency()
	resp.Metadata["intended_agent"] = target.Name()
	return resp, "", outcomeEmergency
}

func (b *Brain) resolve(t Target) (agent.Agent, error) {
	if t.Agent == agent.Specialist {
		return b.registry.Specialist(t.Subject, t.Grade)
	}
	return b.registry.Get(t.Agent)
}

// invoke calls the agent, converting a panic or an empty reply into an error.
func invoke(ctx context.Context, a agent.Agent, userID string, hc agent.HandoffContext) (resp agent.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", a.Name(), r)
		}
	}()
	resp, err = a.ProcessMessage(ctx, userID, hc)
	if err != nil {
		return agent.Response{}, fmt.Errorf("agent %s: %w", a.Name(), err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return agent.Response{}, fmt.Errorf("agent %s: %w", a.Name(), errEmptyResponse)
	}
	return resp, nil
}

func emergency() agent.Response {
	return agent.Response{
		Text:        EmergencyMessage,
		Expectation: ExpectRetry,
		Metadata:    map[string]any{"error": true},
	}
}

func (b *Brain) finish(turnID string, turn domain.InboundTurn, in domain.Intent, resp agent.Response, handledBy, outcome string, start time.Time) domain.OutboundTurn {
	md := make(map[string]any, len(resp.Metadata)+6)
	maps.Copy(md, resp.Metadata)
	md["turn_id"] = turnID
	if handledBy != "" {
		md["agent"] = handledBy
	}
	if in.Category != "" {
		md["intent"] = string(in.Category)
		md["confidence"] = in.Confidence
	}
	if resp.Fallback {
		md["is_fallback"] = true
	}

	b.transcript.Log(transcript.Event{
		Timestamp:   b.now().UTC(),
		TurnID:      turnID,
		UserID:      turn.UserID,
		Channel:     b.channel,
		Direction:   transcript.Outbound,
		Agent:       handledBy,
		Category:    string(in.Category),
		Expectation: resp.Expectation,
		ContentRaw:  resp.Text,
		Metadata:    md,
	})

	label := handledBy
	if label == "" {
		label = "none"
	}
	b.metrics.ObserveTurn(label, outcome, b.now().Sub(start))

	return domain.OutboundTurn{
		Response:    resp.Text,
		Expectation: resp.Expectation,
		Metadata:    md,
	}
}

func imageMetadata(url string) map[string]any {
	if url == "" {
		return nil
	}
	return map[string]any{"image_url": url}
}

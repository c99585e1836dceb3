package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/caps-tutor/internal/content"
	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/domain"
)

// ConceptAgent explains concepts for whatever subject and grade the turn
// carries.
type ConceptAgent struct {
	deps Deps
}

// NewConceptAgent creates the concept agent.
func NewConceptAgent(deps Deps) *ConceptAgent {
	return &ConceptAgent{deps: deps.withDefaults()}
}

// ID implements Agent.
func (a *ConceptAgent) ID() ID { return Concept }

// Name implements Agent.
func (a *ConceptAgent) Name() string { return string(Concept) }

// ProcessMessage implements Agent.
func (a *ConceptAgent) ProcessMessage(ctx context.Context, userID string, hc HandoffContext) (Response, error) {
	topic := hc.Intent.Topic
	if !domain.Known(topic) {
		if t, ok := curriculum.MatchTopic(hc.Turn.Message); ok {
			topic = t
		}
	}
	return a.explain(ctx, userID, hc, resolveSubject(hc, topic), resolveGrade(hc), topic)
}

func (a *ConceptAgent) explain(ctx context.Context, userID string, hc HandoffContext, subject, grade, topic string) (Response, error) {
	c := a.deps.Content.Concept(ctx, content.Spec{
		Subject: subject,
		Grade:   grade,
		Topic:   topic,
		Input:   hc.Turn.Message,
	})
	if _, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
		s.HasReceivedHelp = true
	}); err != nil {
		return Response{}, fmt.Errorf("save concept turn: %w", err)
	}

	var b strings.Builder
	if domain.Known(topic) {
		fmt.Fprintf(&b, "📘 *%s*\n\n", topic)
	}
	b.WriteString(c.Explanation)
	if c.Example != "" {
		fmt.Fprintf(&b, "\n\nExample: %s", c.Example)
	}
	if c.CheckQuestion != "" {
		fmt.Fprintf(&b, "\n\n%s", c.CheckQuestion)
	}
	return Response{
		Text:        b.String(),
		Expectation: ExpectConceptFollowUp,
		Fallback:    c.Fallback,
		Metadata:    metadata("topic", topic, "subject", subject, "grade", grade, "is_fallback", c.Fallback),
	}, nil
}

// SpecialistAgent is a concept agent pinned to one subject and grade.
type SpecialistAgent struct {
	concept *ConceptAgent
	subject string
	grade   string
}

// NewSpecialistAgent creates the specialist for subject and grade.
func NewSpecialistAgent(concept *ConceptAgent, subject, grade string) *SpecialistAgent {
	return &SpecialistAgent{concept: concept, subject: subject, grade: grade}
}

// ID implements Agent.
func (a *SpecialistAgent) ID() ID { return Specialist }

// Name implements Agent.
func (a *SpecialistAgent) Name() string { return SpecialistName(a.subject, a.grade) }

// ProcessMessage implements Agent.
func (a *SpecialistAgent) ProcessMessage(ctx context.Context, userID string, hc HandoffContext) (Response, error) {
	topic := hc.Intent.Topic
	if !domain.Known(topic) {
		if t, ok := curriculum.MatchTopic(hc.Turn.Message); ok {
			topic = t
		}
	}
	resp, err := a.concept.explain(ctx, userID, hc, a.subject, a.grade, topic)
	if err != nil {
		return Response{}, err
	}
	resp.Metadata["specialist"] = a.Name()
	return resp, nil
}

// Package agent implements the tutoring agents that own a turn once the
// router has picked them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/caps-tutor/internal/content"
	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
	"github.com/ashureev/caps-tutor/internal/store"
)

// ErrUnregistered is returned when no agent is registered for a target.
var ErrUnregistered = errors.New("agent not registered")

// ID identifies an agent kind. The set is closed.
type ID string

const (
	Conversation ID = "conversation"
	Homework     ID = "homework"
	Practice     ID = "practice"
	Exam         ID = "exam"
	Concept      ID = "concept"
	Specialist   ID = "specialist"
)

// Expectations tell the caller, and the next turn's classifier, what kind of
// reply the agent is waiting for.
const (
	ExpectSubjectAndGrade  = "subject_and_grade"
	ExpectSubject          = "subject"
	ExpectGrade            = "grade"
	ExpectOpenQuestion     = "open_question"
	ExpectDiagnosticAnswer = "diagnostic_answer"
	ExpectTopicSelection   = "topic_selection"
	ExpectPracticeAttempt  = "practice_attempt"
	ExpectPracticeNext     = "practice_next"
	ExpectHomeworkProblem  = "homework_problem"
	ExpectHomeworkProgress = "homework_progress"
	ExpectAwaitingAnswers  = "awaiting_answers"
	ExpectExamCommand      = "exam_command"
	ExpectConceptFollowUp  = "concept_follow_up"
)

// HandoffContext is everything an agent gets about the turn it now owns.
type HandoffContext struct {
	Turn   domain.InboundTurn
	Intent domain.Intent
	// Session is the snapshot the router classified against. It may be
	// stale; agents write through SessionStore.Update.
	Session *domain.Session

	Agent         string
	PreviousAgent string
	Confidence    float64
	HandoffAt     time.Time

	RoutingError  bool
	IntendedAgent string
}

// Response is an agent's reply.
type Response struct {
	Text        string
	Expectation string
	Metadata    map[string]any
	Fallback    bool
}

// Agent is implemented by every tutoring agent.
type Agent interface {
	ID() ID
	Name() string
	ProcessMessage(ctx context.Context, userID string, hc HandoffContext) (Response, error)
}

// ContentSource generates tutoring content. content.Generator implements it.
type ContentSource interface {
	Concept(ctx context.Context, spec content.Spec) content.Concept
	HomeworkScaffold(ctx context.Context, spec content.Spec) content.Scaffold
	PracticeQuestion(ctx context.Context, spec content.Spec) *domain.Question
	PracticeSolution(ctx context.Context, q *domain.Question) content.Solution
	ExamPack(ctx context.Context, spec content.Spec) content.ExamPack
	ExamSolutions(ctx context.Context, spec content.Spec, pack string) content.Solution
	Diagnostic(ctx context.Context, subject, grade string) *domain.Question
	CheckAttempt(ctx context.Context, q *domain.Question, attempt string) content.Feedback
}

var _ ContentSource = (*content.Generator)(nil)

// Deps are the collaborators shared by all agents.
type Deps struct {
	Store      store.SessionStore
	Content    ContentSource
	LLM        llm.Completer
	Curriculum *curriculum.Lookup
	Logger     *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.LLM == nil {
		d.LLM = llm.Unavailable{}
	}
	if d.Curriculum == nil {
		d.Curriculum = curriculum.MustDefault()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// SpecialistName is the display name of the specialist for a subject and
// grade, e.g. "mathematics_grade_11_agent".
func SpecialistName(subject, grade string) string {
	s := strings.ToLower(strings.Join(strings.Fields(subject), "_"))
	return fmt.Sprintf("%s_grade_%s_agent", s, grade)
}

type specialistKey struct {
	subject string
	grade   string
}

// Registry maps agent IDs, and specialist (subject, grade) pairs, to agents.
type Registry struct {
	agents      map[ID]Agent
	specialists map[specialistKey]Agent
}

// NewRegistry creates a registry holding agents.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{
		agents:      make(map[ID]Agent),
		specialists: make(map[specialistKey]Agent),
	}
	for _, a := range agents {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the agent for its ID.
func (r *Registry) Register(a Agent) {
	r.agents[a.ID()] = a
}

// RegisterSpecialist adds the agent for a subject and grade.
func (r *Registry) RegisterSpecialist(subject, grade string, a Agent) {
	r.specialists[specialistKey{strings.ToLower(subject), grade}] = a
}

// Get returns the agent for id.
func (r *Registry) Get(id ID) (Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregistered, id)
	}
	return a, nil
}

// Specialist returns the agent for a subject and grade.
func (r *Registry) Specialist(subject, grade string) (Agent, error) {
	a, ok := r.specialists[specialistKey{strings.ToLower(subject), grade}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregistered, SpecialistName(subject, grade))
	}
	return a, nil
}

// NewDefaultRegistry wires every agent, plus one specialist per curriculum
// subject and grade.
func NewDefaultRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()
	concept := NewConceptAgent(deps)
	r := NewRegistry(
		NewConversationAgent(deps),
		NewHomeworkAgent(deps),
		NewPracticeAgent(deps),
		NewExamAgent(deps),
		concept,
	)
	for _, pair := range deps.Curriculum.Pairs() {
		r.RegisterSpecialist(pair[0], pair[1], NewSpecialistAgent(concept, pair[0], pair[1]))
	}
	return r
}

// resolveSubject picks the subject for generated content: the intent, then
// the session, then the topic's home subject.
func resolveSubject(hc HandoffContext, topic string) string {
	if domain.Known(hc.Intent.Subject) {
		return hc.Intent.Subject
	}
	if hc.Session != nil && hc.Session.HasSubject() {
		return hc.Session.Subject
	}
	if s, ok := curriculum.SubjectForTopic(topic); ok {
		return s
	}
	return domain.Unknown
}

func resolveGrade(hc HandoffContext) string {
	if domain.Known(hc.Intent.Grade) {
		return hc.Intent.Grade
	}
	if hc.Session != nil && hc.Session.HasGrade() {
		return hc.Session.Grade
	}
	return domain.Unknown
}

func snapshot(hc HandoffContext) *domain.Session {
	if hc.Session == nil {
		return &domain.Session{}
	}
	return hc.Session
}

func metadata(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

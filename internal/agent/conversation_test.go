package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
)

func greeting() domain.Intent {
	return domain.Intent{Category: domain.CategoryGreeting, Subject: domain.Unknown, Grade: domain.Unknown, Topic: domain.Unknown}
}

func TestFirstTimeWelcome(t *testing.T) {
	h := newHarness(t)
	resp := h.turn(NewConversationAgent(h.deps), "Hi", greeting())

	assert.Equal(t, FirstTimeWelcome(""), resp.Text)
	assert.Equal(t, ExpectSubjectAndGrade, resp.Expectation)
	assert.Equal(t, "first_time", resp.Metadata["welcome"])
	assert.True(t, h.session().WelcomeSent)
}

func TestWelcomeVariants(t *testing.T) {
	h := newHarness(t)
	a := NewConversationAgent(h.deps)

	h.seed(func(s *domain.Session) {
		s.WelcomeSent = true
		s.HasReceivedHelp = true
	})
	resp := h.turn(a, "hello", greeting())
	assert.Equal(t, ReturningWelcome, resp.Text)

	// Welcomed but never helped: no second welcome, straight to onboarding.
	h.seed(func(s *domain.Session) { s.HasReceivedHelp = false })
	resp = h.turn(a, "hello", greeting())
	assert.Equal(t, askBothFallback, resp.Text)
	assert.True(t, resp.Fallback)
}

func TestInfoGatheringFallbacks(t *testing.T) {
	h := newHarness(t)
	a := NewConversationAgent(h.deps)
	h.seed(func(s *domain.Session) { s.WelcomeSent = true })

	h.seed(func(s *domain.Session) { s.Grade = "10" })
	resp := h.turn(a, "ok", domain.Intent{})
	assert.Equal(t, askSubjectFallback, resp.Text)
	assert.Equal(t, ExpectSubject, resp.Expectation)

	h.seed(func(s *domain.Session) { s.Grade = ""; s.Subject = "Accounting" })
	resp = h.turn(a, "ok", domain.Intent{})
	assert.Equal(t, askGradeFallback, resp.Text)
	assert.Equal(t, ExpectGrade, resp.Expectation)
}

func TestInfoGatheringUsesModel(t *testing.T) {
	h := newHarness(t)
	h.deps.LLM = llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		assert.Contains(t, req.System, "grade")
		return "  Nice! Which grade are you in?  ", nil
	})
	a := NewConversationAgent(h.deps)
	h.seed(func(s *domain.Session) { s.WelcomeSent = true; s.Subject = "Mathematics" })

	resp := h.turn(a, "I like maths", domain.Intent{})
	assert.Equal(t, "Nice! Which grade are you in?", resp.Text)
	assert.False(t, resp.Fallback)
}

func TestDiagnosticOfferedOnceSubjectAndGradeKnown(t *testing.T) {
	h := newHarness(t)
	a := NewConversationAgent(h.deps)
	h.turn(a, "Hi", greeting())

	h.seed(func(s *domain.Session) { s.Subject = "Mathematics"; s.Grade = "11" })
	resp := h.turn(a, "grade 11 maths", domain.Intent{Category: domain.CategoryGeneralQuestion})
	assert.Equal(t, ExpectDiagnosticAnswer, resp.Expectation)
	assert.Contains(t, resp.Text, "Grade 11 Mathematics")
	assert.Equal(t, "diag", h.session().ActiveQuestion.ID)
	assert.True(t, h.session().HasReceivedHelp)

	// The next open message gets a normal reply, not another diagnostic.
	resp = h.turn(a, "cool", domain.Intent{Category: domain.CategoryGeneralQuestion})
	assert.Equal(t, ExpectOpenQuestion, resp.Expectation)
	assert.Contains(t, resp.Text, "Mathematics")
}

func TestDiagnosticEndsStaleExamFlow(t *testing.T) {
	h := newHarness(t)
	a := NewConversationAgent(h.deps)
	h.turn(a, "Hi", greeting())
	h.seed(func(s *domain.Session) {
		s.Subject = "Mathematics"
		s.Grade = "12"
		s.ExamFlow = &domain.ExamFlowState{Active: true, FocusTopic: "Functions", Stage: examStagePackSent}
	})

	resp := h.turn(a, "grade 12 maths", domain.Intent{Category: domain.CategoryGeneralQuestion})
	require.Equal(t, ExpectDiagnosticAnswer, resp.Expectation)

	s := h.session()
	require.NotNil(t, s.ExamFlow)
	assert.False(t, s.ExamFlow.Active)

	// With the old flow ended, an exam request starts a new pack.
	exam := h.turn(NewExamAgent(h.deps), "exam prep", domain.Intent{Category: domain.CategoryExamPreparation})
	assert.Equal(t, ExpectAwaitingAnswers, exam.Expectation)
	assert.True(t, h.session().ExamFlow.Active)
}

func TestGeneralReplyCarriesRoutingError(t *testing.T) {
	h := newHarness(t)
	a := NewConversationAgent(h.deps)
	h.seed(func(s *domain.Session) {
		s.WelcomeSent = true
		s.Subject = "Mathematics"
		s.Grade = "12"
	})

	resp, err := a.ProcessMessage(context.Background(), testUser, HandoffContext{
		Turn:          domain.InboundTurn{UserID: testUser, Message: "explain limits"},
		Intent:        domain.Intent{Category: domain.CategoryConceptExplanation},
		Session:       h.session(),
		RoutingError:  true,
		IntendedAgent: "mathematics_grade_12_agent",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, resp.Text)
	assert.Equal(t, true, resp.Metadata["routing_error"])
	assert.Equal(t, "mathematics_grade_12_agent", resp.Metadata["intended_agent"])
}

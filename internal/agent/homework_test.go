package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/caps-tutor/internal/content"
	"github.com/ashureev/caps-tutor/internal/domain"
)

func homeworkIntent() domain.Intent {
	return domain.Intent{Category: domain.CategoryHomeworkHelp, Subject: "Mathematics", Grade: "10", Topic: "Algebra"}
}

func TestDecideHomework(t *testing.T) {
	assert.Equal(t, homeworkHint, decideHomework(true, signals{hint: true, problem: true}))
	assert.Equal(t, homeworkAskProblem, decideHomework(false, signals{hint: true}))
	assert.Equal(t, homeworkCheckAttempt, decideHomework(true, signals{attempt: true}))
	assert.Equal(t, homeworkScaffold, decideHomework(true, signals{problem: true, solution: true}))
	assert.Equal(t, homeworkSolution, decideHomework(true, signals{solution: true}))
	assert.Equal(t, homeworkAskProblem, decideHomework(false, signals{solution: true}))
}

func TestHomeworkFlow(t *testing.T) {
	h := newHarness(t)
	a := NewHomeworkAgent(h.deps)

	resp := h.turn(a, "can you help with my homework", homeworkIntent())
	assert.Equal(t, ExpectHomeworkProblem, resp.Expectation)

	resp = h.turn(a, "Solve for x: 4x + 2 = 18", homeworkIntent())
	assert.Equal(t, ExpectHomeworkProgress, resp.Expectation)
	assert.Contains(t, resp.Text, "1. Move terms")
	s := h.session()
	require.NotNil(t, s.ActiveQuestion)
	assert.Equal(t, "Solve for x: 4x + 2 = 18", s.ActiveQuestion.Text)
	assert.True(t, s.HasReceivedHelp)

	resp = h.turn(a, "hint", homeworkIntent())
	assert.Contains(t, resp.Text, "hw hint 1")

	resp = h.turn(a, "just show me the solution", homeworkIntent())
	assert.Contains(t, resp.Text, "worked solution for hw1")
	assert.Equal(t, "worked solution for hw1", h.session().ActiveQuestion.Solution)
}

func TestHomeworkForwardsImage(t *testing.T) {
	h := newHarness(t)
	a := NewHomeworkAgent(h.deps)

	_, err := a.ProcessMessage(t.Context(), testUser, HandoffContext{
		Turn:    domain.InboundTurn{UserID: testUser, Message: "this one", ImageURL: "https://example.com/q.jpg"},
		Intent:  homeworkIntent(),
		Session: h.session(),
	})
	require.NoError(t, err)
	spec := h.content.lastSpec()
	assert.Equal(t, "https://example.com/q.jpg", spec.ImageURL)
}

func TestHomeworkAttemptFeedback(t *testing.T) {
	h := newHarness(t)
	a := NewHomeworkAgent(h.deps)
	h.turn(a, "Solve for x: 4x + 2 = 18", homeworkIntent())

	h.content.feedback = content.Feedback{Correct: false, Text: "Check your subtraction."}
	resp := h.turn(a, "x = 5", homeworkIntent())
	assert.Equal(t, "Check your subtraction.", resp.Text)
	assert.Equal(t, false, resp.Metadata["correct"])
}

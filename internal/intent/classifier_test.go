package intent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
)

func failingLLM(calls *atomic.Int32) llm.Completer {
	return llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return "", llm.ErrCompletion
	})
}

func replyLLM(reply string) llm.Completer {
	return llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		if !req.JSONMode {
			return "", errors.New("classifier must request JSON mode")
		}
		return reply, nil
	})
}

func newTestClassifier(c llm.Completer) *Classifier {
	return NewClassifier(c, curriculum.MustDefault(), nil, nil)
}

func TestGreetingFastPathSkipsLLM(t *testing.T) {
	var calls atomic.Int32
	c := newTestClassifier(failingLLM(&calls))

	for _, msg := range []string{"Hi", "hello!", "  HEY  ", "Greetings.", "hi!!"} {
		in := c.Classify(context.Background(), msg, nil)
		assert.Equal(t, domain.CategoryGreeting, in.Category, msg)
		assert.GreaterOrEqual(t, in.Confidence, 0.9)
		assert.Equal(t, domain.SourceFastPath, in.Source)
	}
	assert.Zero(t, calls.Load())
}

func TestGreetingMustBeWholeMessage(t *testing.T) {
	c := newTestClassifier(failingLLM(nil))
	in := c.Classify(context.Background(), "hi can you help with my homework", nil)
	assert.NotEqual(t, domain.CategoryGreeting, in.Category)
	assert.Equal(t, domain.CategoryHomeworkHelp, in.Category)
}

func TestKeywordFallback(t *testing.T) {
	c := newTestClassifier(failingLLM(nil))
	tests := []struct {
		msg  string
		want domain.Category
	}{
		{"please solve this for me", domain.CategoryHomeworkHelp},
		{"give me a practice question", domain.CategoryPracticeRequest},
		{"I have a test on friday", domain.CategoryExamPreparation},
		{"what is a derivative", domain.CategoryConceptExplanation},
		{"how does photosynthesis work", domain.CategoryConceptExplanation},
		{"thanks", domain.CategoryGeneralQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			in := c.Classify(context.Background(), tt.msg, nil)
			assert.Equal(t, tt.want, in.Category)
			assert.Equal(t, 0.7, in.Confidence)
			assert.Equal(t, domain.SourceKeyword, in.Source)
		})
	}
}

func TestGradeAlgebraPracticeScenario(t *testing.T) {
	c := newTestClassifier(failingLLM(nil))
	in := c.Classify(context.Background(), "grade 11 algebra practice", domain.NewSession("u1", time.Now()))

	assert.Equal(t, domain.CategoryPracticeRequest, in.Category)
	assert.Equal(t, "11", in.Grade)
	assert.Equal(t, "Algebra", in.Topic)
	assert.Equal(t, "Mathematics", in.Subject)
	assert.Equal(t, StageTutoring, in.Stage)
}

func TestLLMResultIsUsed(t *testing.T) {
	c := newTestClassifier(replyLLM(`{"category":"concept_explanation","subject":"Physical Sciences","grade":"10","topic":"Newton's laws","confidence":0.88,"conversation_stage":"tutoring"}`))
	in := c.Classify(context.Background(), "why do objects keep moving", nil)

	assert.Equal(t, domain.CategoryConceptExplanation, in.Category)
	assert.Equal(t, "Physical Sciences", in.Subject)
	assert.Equal(t, "10", in.Grade)
	assert.Equal(t, "Newton's laws", in.Topic)
	assert.Equal(t, 0.88, in.Confidence)
	assert.Equal(t, domain.SourceLLM, in.Source)
}

func TestMalformedLLMRepliesFallBack(t *testing.T) {
	replies := []string{
		`not json`,
		`{"category":"chit_chat","subject":"unknown","grade":"unknown","topic":"unknown","confidence":0.5}`,
		`{"category":"greeting","subject":"unknown","grade":"unknown","topic":"unknown","confidence":1.5}`,
		`{"category":"greeting","subject":"unknown","grade":"unknown","topic":"unknown","confidence":0.5,"extra":true}`,
		`{"category":"greeting"}`,
	}
	for _, reply := range replies {
		c := newTestClassifier(replyLLM(reply))
		in := c.Classify(context.Background(), "practice please", nil)
		assert.Equal(t, domain.SourceKeyword, in.Source, reply)
		assert.Equal(t, domain.CategoryPracticeRequest, in.Category, reply)
	}
}

func TestMessageGradeBeatsUnknownLLMGrade(t *testing.T) {
	c := newTestClassifier(replyLLM(`{"category":"practice_request","subject":"unknown","grade":"unknown","topic":"unknown","confidence":0.6,"conversation_stage":"tutoring"}`))
	in := c.Classify(context.Background(), "I'm in grade 9, give me questions", nil)
	assert.Equal(t, "9", in.Grade)
}

func TestUnknownLLMValuesKeepSessionValues(t *testing.T) {
	sess := domain.NewSession("u1", time.Now())
	sess.Subject = "Accounting"
	sess.Grade = "12"

	c := newTestClassifier(replyLLM(`{"category":"general_question","subject":"unknown","grade":"unknown","topic":"unknown","confidence":0.4,"conversation_stage":"tutoring"}`))
	in := c.Classify(context.Background(), "ok cool", sess)
	assert.Equal(t, "Accounting", in.Subject)
	assert.Equal(t, "12", in.Grade)
}

func TestExplicitMessageOverridesSession(t *testing.T) {
	sess := domain.NewSession("u1", time.Now())
	sess.Subject = "Accounting"
	sess.Grade = "12"

	c := newTestClassifier(failingLLM(nil))
	in := c.Classify(context.Background(), "actually I'm grade 10 and need maths homework help", sess)
	assert.Equal(t, "10", in.Grade)
	assert.Equal(t, "Mathematics", in.Subject)
}

func TestContinuationPinsFollowUpsToFlowOwner(t *testing.T) {
	sess := domain.NewSession("u1", time.Now())
	sess.CurrentAgent = "practice"
	sess.SetActiveQuestion(&domain.Question{ID: "q1"})

	// LLM thinks "help" is homework; the practice flow keeps ownership.
	c := newTestClassifier(replyLLM(`{"category":"homework_help","subject":"unknown","grade":"unknown","topic":"unknown","confidence":0.7,"conversation_stage":"tutoring"}`))
	for _, msg := range []string{"hint please", "I'm stuck, help", "show me the answer", "another one", "x = 3"} {
		in := c.Classify(context.Background(), msg, sess)
		assert.Equal(t, domain.CategoryPracticeRequest, in.Category, msg)
		assert.Equal(t, StageFollowUp, in.Stage, msg)
	}
}

func TestSessionGradeBeatsGuessedLLMGrade(t *testing.T) {
	sess := domain.NewSession("u1", time.Now())
	sess.Subject = "Mathematics"
	sess.Grade = "12"

	c := newTestClassifier(replyLLM(`{"category":"practice_request","subject":"Mathematics","grade":"10","topic":"unknown","confidence":0.8,"conversation_stage":"tutoring"}`))
	in := c.Classify(context.Background(), "give me some questions", sess)
	assert.Equal(t, "12", in.Grade)

	in = c.Classify(context.Background(), "grade 10 questions please", sess)
	assert.Equal(t, "10", in.Grade, "a grade stated in the message still wins")
}

func TestContinuationPinsHomeworkAttempts(t *testing.T) {
	sess := domain.NewSession("u1", time.Now())
	sess.CurrentAgent = "homework"
	sess.SetActiveQuestion(&domain.Question{ID: "hw1", Text: "3x + 5 = 20"})

	c := newTestClassifier(failingLLM(nil))
	for _, msg := range []string{"3x = 15", "x = 5", "i got 5"} {
		in := c.Classify(context.Background(), msg, sess)
		assert.Equal(t, domain.CategoryHomeworkHelp, in.Category, msg)
		assert.Equal(t, StageFollowUp, in.Stage, msg)
	}
}

func TestContinuationPinsBareTopicSwitch(t *testing.T) {
	tests := []struct {
		name  string
		agent string
		setup func(*domain.Session)
		msg   string
		want  domain.Category
	}{
		{
			name:  "exam focus change",
			agent: "exam",
			setup: func(s *domain.Session) { s.ExamFlow = &domain.ExamFlowState{Active: true, FocusTopic: "mixed topics"} },
			msg:   "functions",
			want:  domain.CategoryExamPreparation,
		},
		{
			name:  "practice topic change",
			agent: "practice",
			setup: func(s *domain.Session) { s.SetActiveQuestion(&domain.Question{ID: "q1", Topic: "Algebra"}) },
			msg:   "trigonometry",
			want:  domain.CategoryPracticeRequest,
		},
		{
			name:  "concept request is not pinned",
			agent: "practice",
			setup: func(s *domain.Session) { s.SetActiveQuestion(&domain.Question{ID: "q1", Topic: "Algebra"}) },
			msg:   "explain trigonometry",
			want:  domain.CategoryConceptExplanation,
		},
		{
			name:  "homework flow ignores topic names",
			agent: "homework",
			setup: func(s *domain.Session) { s.SetActiveQuestion(&domain.Question{ID: "hw1"}) },
			msg:   "functions",
			want:  domain.CategoryGeneralQuestion,
		},
	}
	c := newTestClassifier(failingLLM(nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := domain.NewSession("u1", time.Now())
			sess.CurrentAgent = tt.agent
			tt.setup(sess)

			in := c.Classify(context.Background(), tt.msg, sess)
			assert.Equal(t, tt.want, in.Category)
		})
	}
}

func TestContinuationRequiresInFlightFlow(t *testing.T) {
	sess := domain.NewSession("u1", time.Now())
	sess.CurrentAgent = "exam"

	c := newTestClassifier(failingLLM(nil))
	in := c.Classify(context.Background(), "more", sess)
	assert.Equal(t, domain.CategoryGeneralQuestion, in.Category)

	sess.ExamFlow = &domain.ExamFlowState{Active: true}
	in = c.Classify(context.Background(), "more", sess)
	assert.Equal(t, domain.CategoryExamPreparation, in.Category)
}

func TestLooksLikeAnswer(t *testing.T) {
	for _, msg := range []string{"x = 3", "12.5", "the answer is 4", "-7", "i got x=2", "3/4", "(2;3)"} {
		assert.True(t, LooksLikeAnswer(msg), msg)
	}
	for _, msg := range []string{"hint", "grade 11", "", "what is 2+2", "another question"} {
		assert.False(t, LooksLikeAnswer(msg), msg)
	}
}

func TestSchemaIsEmbeddedInPrompt(t *testing.T) {
	var seen llm.Request
	c := newTestClassifier(llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		seen = req
		return "", llm.ErrCompletion
	}))
	sess := domain.NewSession("u1", time.Now())
	sess.LastExpectation = "practice_attempt"
	c.Classify(context.Background(), "something", sess)

	require.NotEmpty(t, seen.System)
	assert.Contains(t, seen.System, `"conversation_stage"`)
	assert.Contains(t, seen.System, "practice_request")
	assert.Contains(t, seen.User, "Tutor is expecting: practice_attempt")
}

func TestDiagnosticAnswerGoesToPractice(t *testing.T) {
	sess := domain.NewSession("u1", time.Now())
	sess.CurrentAgent = "conversation"
	sess.LastExpectation = "diagnostic_answer"
	sess.SetActiveQuestion(&domain.Question{ID: "d1"})

	c := newTestClassifier(failingLLM(nil))
	in := c.Classify(context.Background(), "a = 5", sess)
	assert.Equal(t, domain.CategoryPracticeRequest, in.Category)
}

package content

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
)

const goodQuestion = `{
	"question": "Solve for x: x^2 - 5x + 6 = 0",
	"hints": ["Look for two numbers that multiply to 6.", "They must also add to -5.", "Write the trinomial as two brackets."],
	"solution": "(x - 2)(x - 3) = 0\nx = 2 or x = 3"
}`

func countingLLM(reply string, err error) (llm.Completer, *atomic.Int32) {
	var calls atomic.Int32
	return llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		calls.Add(1)
		return reply, err
	}), &calls
}

func algebraSpec() Spec {
	return Spec{Subject: "Mathematics", Grade: "11", Topic: "Algebra", Difficulty: domain.DifficultyMedium}
}

func TestPracticeQuestionGenerated(t *testing.T) {
	c, _ := countingLLM(goodQuestion, nil)
	g := NewGenerator(c, time.Hour, nil, nil)

	q := g.PracticeQuestion(context.Background(), algebraSpec())
	require.NotNil(t, q)
	assert.False(t, q.IsFallback)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, "Algebra", q.Topic)
	assert.Equal(t, domain.DifficultyMedium, q.Difficulty)
	assert.Len(t, q.Hints, 3)
	assert.Contains(t, q.Solution, "x = 3")
}

func TestPracticeQuestionFallbackOnFailure(t *testing.T) {
	c, _ := countingLLM("", llm.ErrCompletion)
	g := NewGenerator(c, time.Hour, nil, nil)

	q := g.PracticeQuestion(context.Background(), algebraSpec())
	require.NotNil(t, q)
	assert.True(t, q.IsFallback)
	assert.NotEmpty(t, q.Text)
	assert.Len(t, q.Hints, 3)
	assert.NotEmpty(t, q.Solution)

	unknown := algebraSpec()
	unknown.Topic = "Euclidean proofs"
	q = g.PracticeQuestion(context.Background(), unknown)
	assert.True(t, q.IsFallback)
	assert.Equal(t, defaultFallbackQuestion.text, q.Text)
}

func TestInvalidPayloadsFallBack(t *testing.T) {
	replies := map[string]string{
		"two hints":     `{"question":"Solve for x: 2x = 10 please","hints":["a","b"],"solution":"x = 5"}`,
		"leaked answer": `{"question":"Solve for x: 2x = 10 please","hints":["Divide both sides","The answer is 5","Check"],"solution":"x = 5"}`,
		"final line":    `{"question":"Evaluate the limit carefully","hints":["Factor first","Cancel terms","You get limit equals 12 exactly"],"solution":"working\nlimit equals 12 exactly"}`,
		"missing field": `{"question":"Solve for x: 2x = 10 please","hints":["a","b","c"]}`,
		"not json":      `Sure! Here's a question: ...`,
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			c, _ := countingLLM(reply, nil)
			g := NewGenerator(c, time.Hour, nil, nil)
			q := g.PracticeQuestion(context.Background(), algebraSpec())
			assert.True(t, q.IsFallback)
		})
	}
}

func TestCacheAndFresh(t *testing.T) {
	c, calls := countingLLM(goodQuestion, nil)
	g := NewGenerator(c, time.Hour, nil, nil)
	ctx := context.Background()

	first := g.PracticeQuestion(ctx, algebraSpec())
	second := g.PracticeQuestion(ctx, algebraSpec())
	assert.Equal(t, int32(1), calls.Load(), "second call served from cache")
	assert.Equal(t, first.Text, second.Text)
	assert.NotEqual(t, first.ID, second.ID, "each delivery is a distinct question")

	fresh := algebraSpec()
	fresh.Fresh = true
	g.PracticeQuestion(ctx, fresh)
	assert.Equal(t, int32(2), calls.Load())

	harder := algebraSpec()
	harder.Difficulty = domain.DifficultyHard
	g.PracticeQuestion(ctx, harder)
	assert.Equal(t, int32(3), calls.Load(), "difficulty is part of the key")
}

func TestFallbacksAreNotCached(t *testing.T) {
	c, calls := countingLLM("", llm.ErrCompletion)
	g := NewGenerator(c, time.Hour, nil, nil)

	g.PracticeQuestion(context.Background(), algebraSpec())
	g.PracticeQuestion(context.Background(), algebraSpec())
	assert.Equal(t, int32(2), calls.Load())
}

func TestConcurrentRequestsAreCollapsed(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	c := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		calls.Add(1)
		<-release
		return goodQuestion, nil
	})
	g := NewGenerator(c, time.Hour, nil, nil)

	var wg sync.WaitGroup
	results := make([]*domain.Question, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = g.PracticeQuestion(context.Background(), algebraSpec())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, q := range results {
		assert.False(t, q.IsFallback)
	}
}

func TestSpecKey(t *testing.T) {
	a := algebraSpec()
	a.Kind = KindPracticeQuestion
	b := a
	b.Input = "different"
	assert.NotEqual(t, a.Key(), b.Key())

	b = a
	b.Fresh = true
	assert.Equal(t, a.Key(), b.Key(), "Fresh does not change the key")
}

func TestHomeworkScaffold(t *testing.T) {
	reply := `{"understanding":"You need the area of a circle.","steps":["Find the radius","Use the area formula"],"hints":["Radius is half the diameter","Area uses pi r squared","Substitute r = 7"]}`
	var seen llm.Request
	c := llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		seen = req
		return reply, nil
	})
	g := NewGenerator(c, time.Hour, nil, nil)

	spec := algebraSpec()
	spec.Input = "Find the area of a circle with diameter 14 cm"
	spec.ImageURL = "https://example.com/hw.jpg"
	s := g.HomeworkScaffold(context.Background(), spec)

	assert.False(t, s.Fallback)
	assert.Equal(t, spec.Input, s.Question.Text)
	assert.Len(t, s.Question.Hints, 3)
	assert.Empty(t, s.Question.Solution)
	assert.Len(t, s.Steps, 2)
	assert.Contains(t, seen.User, "https://example.com/hw.jpg")
	assert.True(t, seen.JSONMode)
}

func TestHomeworkScaffoldRejectsLeak(t *testing.T) {
	reply := `{"understanding":"Area of a circle.","steps":["Find r","Final answer: 153.9 cm²"],"hints":["a","b","c"]}`
	c, _ := countingLLM(reply, nil)
	g := NewGenerator(c, time.Hour, nil, nil)

	spec := algebraSpec()
	spec.Input = "Find the area of a circle with diameter 14 cm"
	s := g.HomeworkScaffold(context.Background(), spec)
	assert.True(t, s.Fallback)
	assert.True(t, s.Question.IsFallback)
	assert.Equal(t, spec.Input, s.Question.Text)
}

func TestExamPack(t *testing.T) {
	reply := `{"title":"Trig revision","questions":[{"text":"Q one","marks":3},{"text":"Q two","marks":5},{"text":"Q three","marks":8}]}`
	c, _ := countingLLM(reply, nil)
	g := NewGenerator(c, time.Hour, nil, nil)

	pack := g.ExamPack(context.Background(), Spec{Subject: "Mathematics", Grade: "12", Topic: "Trigonometry", Mode: domain.ExamModePastPaper})
	assert.False(t, pack.Fallback)
	require.Len(t, pack.Items, 3)
	assert.Equal(t, 3, pack.Items[2].Number)
	assert.Contains(t, pack.Text(), "3. Q three (8 marks)")
}

func TestExamPackFallback(t *testing.T) {
	c, _ := countingLLM(`{"title":"Too short","questions":[{"text":"Q","marks":3}]}`, nil)
	g := NewGenerator(c, time.Hour, nil, nil)

	pack := g.ExamPack(context.Background(), Spec{Subject: "Mathematics", Grade: "12"})
	assert.True(t, pack.Fallback)
	assert.Len(t, pack.Items, 3)
	assert.Contains(t, pack.Title, "mixed topics")
}

func TestSolutionsFormatted(t *testing.T) {
	c, _ := countingLLM(`{"steps":["Factorise","Solve each bracket"],"final_answer":"x = 2 or x = 3"}`, nil)
	g := NewGenerator(c, time.Hour, nil, nil)

	sol := g.PracticeSolution(context.Background(), &domain.Question{Text: "Solve x^2 - 5x + 6 = 0", Topic: "Algebra"})
	assert.False(t, sol.Fallback)
	assert.Equal(t, "Step 1: Factorise\nStep 2: Solve each bracket\nFinal answer: x = 2 or x = 3", sol.Text)

	memo := g.ExamSolutions(context.Background(), Spec{Topic: "Algebra"}, "1. Solve x^2 = 4")
	assert.Contains(t, memo.Text, "Step 1:")
}

func TestCheckAttempt(t *testing.T) {
	q := &domain.Question{Text: "Solve 2x = 10", Solution: "2x = 10\nx equals five exactly"}

	c, _ := countingLLM(`{"correct":true,"feedback":"Spot on!"}`, nil)
	fb := NewGenerator(c, time.Hour, nil, nil).CheckAttempt(context.Background(), q, "5")
	assert.True(t, fb.Correct)
	assert.False(t, fb.Fallback)

	c, _ = countingLLM(`{"correct":false,"feedback":"Close, but x equals five exactly"}`, nil)
	fb = NewGenerator(c, time.Hour, nil, nil).CheckAttempt(context.Background(), q, "4")
	assert.True(t, fb.Fallback, "feedback on a wrong attempt must not reveal the answer")

	c, _ = countingLLM("", errors.New("boom"))
	fb = NewGenerator(c, time.Hour, nil, nil).CheckAttempt(context.Background(), q, "4")
	assert.True(t, fb.Fallback)
	assert.NotEmpty(t, fb.Text)
}

func TestDiagnosticAndConceptFallbacks(t *testing.T) {
	c, _ := countingLLM("", llm.ErrCompletion)
	g := NewGenerator(c, time.Hour, nil, nil)

	q := g.Diagnostic(context.Background(), "Life Sciences", "10")
	assert.True(t, q.IsFallback)
	assert.Contains(t, q.Text, "Life Sciences")

	concept := g.Concept(context.Background(), Spec{Subject: "Mathematics", Grade: "10", Topic: "Functions"})
	assert.True(t, concept.Fallback)
	assert.Contains(t, concept.Explanation, "Functions")
}

func TestCheckLeak(t *testing.T) {
	assert.NoError(t, checkLeak("Try factorising first.", "x = 2"))
	assert.ErrorIs(t, checkLeak("The answer is 7", ""), ErrAnswerLeak)
	assert.ErrorIs(t, checkLeak("answer: 7", ""), ErrAnswerLeak)
	assert.ErrorIs(t, checkLeak("so AC = 13 cm long", "step\nAC = 13 cm"), ErrAnswerLeak)
	assert.NoError(t, checkLeak("x 3 appears", "x = 3"), "short final lines are ignored")
}

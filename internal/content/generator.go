// Package content generates tutoring content with an LLM. Every generator
// validates the model reply strictly and substitutes a fixed fallback payload
// on any failure, so callers never see an error.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
	"github.com/ashureev/caps-tutor/internal/metrics"
)

// DefaultCacheTTL is how long generated content is reused.
const DefaultCacheTTL = 6 * time.Hour

// Kind names a content type. It is the first component of every cache key.
type Kind string

const (
	KindConcept          Kind = "concept"
	KindHomeworkScaffold Kind = "homework_scaffold"
	KindPracticeQuestion Kind = "practice_question"
	KindPracticeSolution Kind = "practice_solution"
	KindExamPack         Kind = "exam_pack"
	KindExamSolutions    Kind = "exam_solutions"
	KindDiagnostic       Kind = "diagnostic"
	KindCheckAttempt     Kind = "check_attempt"
)

// Spec describes the content to generate.
type Spec struct {
	Kind       Kind
	Subject    string
	Grade      string
	Topic      string
	Difficulty domain.Difficulty
	Mode       domain.ExamMode
	Count      int
	// Input is free text the content depends on: a homework problem, a
	// question to solve, or a learner's attempt.
	Input    string
	ImageURL string
	// Fresh skips cached results. The new result still replaces the cache entry.
	Fresh bool
}

// Key is the composite cache key for the spec.
func (s Spec) Key() string {
	sum := sha256.Sum256([]byte(s.Input + "\x00" + s.ImageURL))
	return strings.Join([]string{
		string(s.Kind),
		strings.ToLower(s.Subject),
		s.Grade,
		strings.ToLower(s.Topic),
		string(s.Difficulty),
		string(s.Mode),
		strconv.Itoa(s.Count),
		hex.EncodeToString(sum[:6]),
	}, "|")
}

// Generator produces content for agents.
type Generator struct {
	llm     llm.Completer
	cache   *cache.Cache
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGenerator creates a Generator. A non-positive ttl uses DefaultCacheTTL.
func NewGenerator(c llm.Completer, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Generator {
	if c == nil {
		c = llm.Unavailable{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		llm:     c,
		cache:   cache.New(ttl, ttl/2),
		metrics: m,
		logger:  logger,
	}
}

var validate = validator.New()

// checker enforces content rules beyond struct validation, such as leaked
// answers.
type checker[T any] func(*T) error

// generate runs one cached, deduplicated, strictly validated completion. It
// returns false when the caller must use its fallback.
func generate[T any](ctx context.Context, g *Generator, spec Spec, req llm.Request, check checker[T]) (T, bool) {
	var zero T
	key := spec.Key()

	if !spec.Fresh {
		if v, ok := g.cache.Get(key); ok {
			if out, ok := v.(T); ok {
				g.metrics.ObserveContent(string(spec.Kind), "cached")
				return out, true
			}
		}
	}

	flightKey := key
	if spec.Fresh {
		flightKey = "fresh|" + key
	}
	v, err, _ := g.group.Do(flightKey, func() (any, error) {
		var out T
		if err := llm.CompleteJSON(ctx, g.llm, req, &out); err != nil {
			return nil, err
		}
		if err := validate.Struct(out); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", spec.Kind, err)
		}
		if check != nil {
			if err := check(&out); err != nil {
				return nil, err
			}
		}
		g.cache.Set(key, out, cache.DefaultExpiration)
		return out, nil
	})
	if err != nil {
		g.logger.Warn("Content generation failed, using fallback",
			"kind", spec.Kind,
			"subject", spec.Subject,
			"grade", spec.Grade,
			"topic", spec.Topic,
			"error", err,
		)
		g.metrics.ObserveContent(string(spec.Kind), "fallback")
		return zero, false
	}
	g.metrics.ObserveContent(string(spec.Kind), "generated")
	return v.(T), true
}

// Concept explains a topic.
func (g *Generator) Concept(ctx context.Context, spec Spec) Concept {
	spec.Kind = KindConcept
	p, ok := generate[conceptPayload](ctx, g, spec, conceptRequest(spec), func(p *conceptPayload) error {
		return checkLeak(p.CheckQuestion, "")
	})
	if !ok {
		return fallbackConcept(spec)
	}
	return Concept{
		Topic:         spec.Topic,
		Explanation:   p.Explanation,
		Example:       p.Example,
		CheckQuestion: p.CheckQuestion,
	}
}

// HomeworkScaffold breaks a homework problem into steps and three hints
// without giving the final answer.
func (g *Generator) HomeworkScaffold(ctx context.Context, spec Spec) Scaffold {
	spec.Kind = KindHomeworkScaffold
	p, ok := generate[scaffoldPayload](ctx, g, spec, scaffoldRequest(spec), func(p *scaffoldPayload) error {
		return checkLeak(p.Understanding+"\n"+strings.Join(p.Steps, "\n")+"\n"+strings.Join(p.Hints, "\n"), "")
	})
	if !ok {
		return fallbackScaffold(spec)
	}
	return Scaffold{
		Question:      newQuestion(spec, spec.Input, p.Hints, "", false),
		Understanding: p.Understanding,
		Steps:         append([]string(nil), p.Steps...),
	}
}

// PracticeQuestion generates one question with three progressive hints and a
// worked solution.
func (g *Generator) PracticeQuestion(ctx context.Context, spec Spec) *domain.Question {
	spec.Kind = KindPracticeQuestion
	p, ok := generate[questionPayload](ctx, g, spec, practiceRequest(spec), checkQuestionPayload)
	if !ok {
		return fallbackPractice(spec)
	}
	return newQuestion(spec, p.Question, p.Hints, p.Solution, false)
}

// PracticeSolution works out the solution for a question that has none yet.
func (g *Generator) PracticeSolution(ctx context.Context, q *domain.Question) Solution {
	spec := Spec{
		Kind:       KindPracticeSolution,
		Subject:    q.Subject,
		Grade:      q.Grade,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
		Input:      q.Text,
	}
	p, ok := generate[solutionPayload](ctx, g, spec, solutionRequest(spec, "worked solution"), nil)
	if !ok {
		return fallbackSolution(spec)
	}
	return Solution{Text: p.format()}
}

// ExamPack generates an escalating set of exam-style questions.
func (g *Generator) ExamPack(ctx context.Context, spec Spec) ExamPack {
	spec.Kind = KindExamPack
	spec.Count = clampCount(spec.Count)
	p, ok := generate[examPayload](ctx, g, spec, examRequest(spec), func(p *examPayload) error {
		for _, item := range p.Questions {
			if err := checkLeak(item.Text, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if !ok {
		return fallbackExamPack(spec)
	}
	items := make([]ExamItem, 0, len(p.Questions))
	for i, q := range p.Questions {
		items = append(items, ExamItem{Number: i + 1, Text: q.Text, Marks: q.Marks})
	}
	return ExamPack{Title: p.Title, Topic: spec.Topic, Mode: spec.Mode, Items: items}
}

// ExamSolutions writes a step-marked memo for a pack.
func (g *Generator) ExamSolutions(ctx context.Context, spec Spec, pack string) Solution {
	spec.Kind = KindExamSolutions
	spec.Input = pack
	p, ok := generate[solutionPayload](ctx, g, spec, solutionRequest(spec, "marking memo with marks per step"), nil)
	if !ok {
		return fallbackSolution(spec)
	}
	return Solution{Text: p.format()}
}

// Diagnostic generates one short question to gauge a learner's level.
func (g *Generator) Diagnostic(ctx context.Context, subject, grade string) *domain.Question {
	spec := Spec{
		Kind:       KindDiagnostic,
		Subject:    subject,
		Grade:      grade,
		Difficulty: domain.InitialDifficulty(grade),
	}
	p, ok := generate[questionPayload](ctx, g, spec, diagnosticRequest(spec), checkQuestionPayload)
	if !ok {
		return fallbackDiagnostic(spec)
	}
	return newQuestion(spec, p.Question, p.Hints, p.Solution, false)
}

// CheckAttempt marks a learner's answer to q. Feedback on a wrong attempt
// never gives the answer away.
func (g *Generator) CheckAttempt(ctx context.Context, q *domain.Question, attempt string) Feedback {
	spec := Spec{
		Kind:    KindCheckAttempt,
		Subject: q.Subject,
		Grade:   q.Grade,
		Topic:   q.Topic,
		Input:   q.Text + "\x00" + q.Solution + "\x00" + attempt,
	}
	p, ok := generate[feedbackPayload](ctx, g, spec, checkRequest(q, attempt), func(p *feedbackPayload) error {
		if p.Correct {
			return nil
		}
		return checkLeak(p.Feedback, q.Solution)
	})
	if !ok {
		return Feedback{
			Text:     "I couldn't mark that one automatically. Compare your working with the hints, or reply *solution* to see the full working.",
			Fallback: true,
		}
	}
	return Feedback{Correct: p.Correct, Text: p.Feedback}
}

func newQuestion(spec Spec, text string, hints []string, solution string, fallback bool) *domain.Question {
	if len(hints) > domain.MaxHints {
		hints = hints[:domain.MaxHints]
	}
	return &domain.Question{
		ID:         uuid.NewString(),
		Text:       text,
		Topic:      spec.Topic,
		Difficulty: spec.Difficulty,
		Subject:    spec.Subject,
		Grade:      spec.Grade,
		Hints:      append([]string(nil), hints...),
		Solution:   solution,
		IsFallback: fallback,
	}
}

func clampCount(n int) int {
	switch {
	case n <= 0:
		return 4
	case n < 3:
		return 3
	case n > 4:
		return 4
	default:
		return n
	}
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/caps-tutor/internal/content"
	"github.com/ashureev/caps-tutor/internal/domain"
)

type homeworkAction int

const (
	homeworkHint homeworkAction = iota
	homeworkCheckAttempt
	homeworkScaffold
	homeworkSolution
	homeworkAskProblem
)

func (a homeworkAction) String() string {
	return [...]string{"reveal_hint", "check_attempt", "scaffold", "reveal_solution", "ask_problem"}[a]
}

func decideHomework(hasQuestion bool, sig signals) homeworkAction {
	switch {
	case sig.hint && hasQuestion:
		return homeworkHint
	case sig.attempt && hasQuestion:
		return homeworkCheckAttempt
	case sig.problem:
		return homeworkScaffold
	case sig.solution && hasQuestion:
		return homeworkSolution
	default:
		return homeworkAskProblem
	}
}

// HomeworkAgent scaffolds homework problems without solving them outright.
type HomeworkAgent struct {
	deps Deps
}

// NewHomeworkAgent creates the homework agent.
func NewHomeworkAgent(deps Deps) *HomeworkAgent {
	return &HomeworkAgent{deps: deps.withDefaults()}
}

// ID implements Agent.
func (a *HomeworkAgent) ID() ID { return Homework }

// Name implements Agent.
func (a *HomeworkAgent) Name() string { return string(Homework) }

// ProcessMessage implements Agent.
func (a *HomeworkAgent) ProcessMessage(ctx context.Context, userID string, hc HandoffContext) (Response, error) {
	sess := snapshot(hc)
	sig := readSignals(hc.Turn.Message, hc.Turn.ImageURL)
	action := decideHomework(sess.ActiveQuestion != nil, sig)

	switch action {
	case homeworkHint:
		return revealHint(ctx, a.deps, userID, ExpectHomeworkProgress)
	case homeworkCheckAttempt:
		fb := a.deps.Content.CheckAttempt(ctx, sess.ActiveQuestion, hc.Turn.Message)
		text := fb.Text
		if fb.Correct {
			text = "✅ " + text + "\n\nSend me the next problem whenever you're ready."
		}
		return Response{
			Text:        text,
			Expectation: ExpectHomeworkProgress,
			Fallback:    fb.Fallback,
			Metadata:    metadata("action", action.String(), "correct", fb.Correct, "is_fallback", fb.Fallback),
		}, nil
	case homeworkScaffold:
		return a.scaffold(ctx, userID, hc)
	case homeworkSolution:
		return revealSolution(ctx, a.deps, userID, sess,
			"Try the next problem yourself and send it to me if you get stuck.", ExpectHomeworkProgress)
	default:
		return Response{
			Text: "Sure, send me the homework problem. You can type it out or send a photo, " +
				"and I'll help you work through it step by step.",
			Expectation: ExpectHomeworkProblem,
			Metadata:    metadata("action", action.String()),
		}, nil
	}
}

func (a *HomeworkAgent) scaffold(ctx context.Context, userID string, hc HandoffContext) (Response, error) {
	topic := hc.Intent.Topic
	if !domain.Known(topic) {
		topic = domain.Unknown
	}
	sc := a.deps.Content.HomeworkScaffold(ctx, content.Spec{
		Subject:  resolveSubject(hc, topic),
		Grade:    resolveGrade(hc),
		Topic:    topic,
		Input:    hc.Turn.Message,
		ImageURL: hc.Turn.ImageURL,
	})

	if _, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
		s.SetActiveQuestion(sc.Question)
		s.EndExamFlow()
		s.HasReceivedHelp = true
	}); err != nil {
		return Response{}, fmt.Errorf("save homework problem: %w", err)
	}

	var b strings.Builder
	b.WriteString("Let's work through this together.\n\n")
	b.WriteString(sc.Understanding)
	b.WriteString("\n\nSteps:")
	for i, step := range sc.Steps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, step)
	}
	b.WriteString("\n\nTry step 1 and tell me what you get. Say *hint* if you get stuck.")

	return Response{
		Text:        b.String(),
		Expectation: ExpectHomeworkProgress,
		Fallback:    sc.Fallback,
		Metadata: metadata(
			"action", homeworkScaffold.String(),
			"question_id", sc.Question.ID,
			"is_fallback", sc.Fallback,
		),
	}, nil
}

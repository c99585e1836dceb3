package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/caps-tutor/internal/content"
	"github.com/ashureev/caps-tutor/internal/domain"
)

// MixedTopics is the exam focus when no topic is named.
const MixedTopics = "mixed topics"

// Exam flow stages.
const (
	examStagePackSent = "pack_sent"
	examStageMemoSent = "memo_sent"
)

// ExamMenu lists the commands available while an exam flow is active.
const ExamMenu = "Here's what you can do next:\n" +
	"• *memo* for step-by-step solutions\n" +
	"• *more* for a fresh set of questions\n" +
	"• name a topic (e.g. *functions*) to switch focus"

type examAction int

const (
	examStart examAction = iota
	examMemo
	examRestart
	examMore
	examMenu
)

func (a examAction) String() string {
	return [...]string{"start", "memo", "restart", "more", "menu"}[a]
}

type examDecision struct {
	action examAction
	topic  string
	mode   domain.ExamMode
}

// decideExam is the exam transition table.
func decideExam(flow *domain.ExamFlowState, sig signals) examDecision {
	mode := domain.ExamModePrep
	if sig.pastPaper {
		mode = domain.ExamModePastPaper
	}
	topic := sig.topic
	if topic == "" {
		topic = MixedTopics
	}

	if flow == nil || !flow.Active {
		return examDecision{action: examStart, topic: topic, mode: mode}
	}
	switch {
	case sig.solution:
		return examDecision{action: examMemo, topic: flow.FocusTopic, mode: flow.Mode}
	case sig.topic != "" && !strings.EqualFold(sig.topic, flow.FocusTopic):
		return examDecision{action: examRestart, topic: sig.topic, mode: mode}
	case sig.more:
		return examDecision{action: examMore, topic: flow.FocusTopic, mode: flow.Mode}
	default:
		return examDecision{action: examMenu, topic: flow.FocusTopic, mode: flow.Mode}
	}
}

// ExamAgent runs exam preparation packs.
type ExamAgent struct {
	deps Deps
}

// NewExamAgent creates the exam agent.
func NewExamAgent(deps Deps) *ExamAgent {
	return &ExamAgent{deps: deps.withDefaults()}
}

// ID implements Agent.
func (a *ExamAgent) ID() ID { return Exam }

// Name implements Agent.
func (a *ExamAgent) Name() string { return string(Exam) }

// ProcessMessage implements Agent.
func (a *ExamAgent) ProcessMessage(ctx context.Context, userID string, hc HandoffContext) (Response, error) {
	sess := snapshot(hc)
	sig := readSignals(hc.Turn.Message, hc.Turn.ImageURL)
	d := decideExam(sess.ExamFlow, sig)

	a.deps.Logger.Debug("Exam decision", "user_id", userID, "action", d.action.String(), "topic", d.topic, "mode", d.mode)

	switch d.action {
	case examMemo:
		return a.memo(ctx, userID, sess)
	case examMenu:
		return Response{
			Text:        ExamMenu,
			Expectation: ExpectExamCommand,
			Metadata:    metadata("action", d.action.String(), "topic", d.topic),
		}, nil
	default:
		return a.pack(ctx, userID, hc, d)
	}
}

func (a *ExamAgent) pack(ctx context.Context, userID string, hc HandoffContext, d examDecision) (Response, error) {
	subject := resolveSubject(hc, d.topic)
	grade := resolveGrade(hc)
	if d.action == examMore && hc.Session != nil && hc.Session.ExamFlow != nil {
		subject, grade = hc.Session.ExamFlow.Subject, hc.Session.ExamFlow.Grade
	}

	pack := a.deps.Content.ExamPack(ctx, content.Spec{
		Subject: subject,
		Grade:   grade,
		Topic:   d.topic,
		Mode:    d.mode,
		Fresh:   d.action == examMore,
	})
	q := &domain.Question{
		ID:         uuid.NewString(),
		Text:       pack.Text(),
		Topic:      d.topic,
		Subject:    subject,
		Grade:      grade,
		IsFallback: pack.Fallback,
	}

	if _, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
		s.SetActiveQuestion(q)
		s.ExamFlow = &domain.ExamFlowState{
			Active:     true,
			Subject:    subject,
			Grade:      grade,
			FocusTopic: d.topic,
			Mode:       d.mode,
			Stage:      examStagePackSent,
		}
		s.HasReceivedHelp = true
	}); err != nil {
		return Response{}, fmt.Errorf("save exam flow: %w", err)
	}

	return Response{
		Text:        q.Text + "\n\nWork through these, then reply *memo* for the solutions or *more* for another set.",
		Expectation: ExpectAwaitingAnswers,
		Fallback:    pack.Fallback,
		Metadata: metadata(
			"action", d.action.String(),
			"topic", d.topic,
			"mode", string(d.mode),
			"question_count", len(pack.Items),
			"is_fallback", pack.Fallback,
		),
	}, nil
}

func (a *ExamAgent) memo(ctx context.Context, userID string, sess *domain.Session) (Response, error) {
	q := sess.ActiveQuestion
	if q == nil {
		return Response{Text: ExamMenu, Expectation: ExpectExamCommand, Metadata: metadata("action", examMenu.String())}, nil
	}
	flow := sess.ExamFlow

	solution, fallback := q.Solution, false
	if !q.HasSolution() {
		sol := a.deps.Content.ExamSolutions(ctx, content.Spec{
			Subject: flow.Subject,
			Grade:   flow.Grade,
			Topic:   flow.FocusTopic,
			Mode:    flow.Mode,
		}, q.Text)
		solution, fallback = sol.Text, sol.Fallback
	}

	if _, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
		if !fallback && s.ActiveQuestion != nil && s.ActiveQuestion.ID == q.ID {
			s.ActiveQuestion.Solution = solution
		}
		if s.ExamFlow != nil {
			s.ExamFlow.Stage = examStageMemoSent
		}
	}); err != nil {
		return Response{}, fmt.Errorf("save exam memo: %w", err)
	}

	return Response{
		Text:        "📋 Memo\n\n" + solution + "\n\n" + ExamMenu,
		Expectation: ExpectExamCommand,
		Fallback:    fallback,
		Metadata:    metadata("action", examMemo.String(), "topic", flow.FocusTopic, "is_fallback", fallback),
	}, nil
}

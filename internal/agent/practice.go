package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/caps-tutor/internal/content"
	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/domain"
)

// HintsExhaustedMessage is sent for every hint request once all hints for the
// current question are out.
const HintsExhaustedMessage = "You've had all the hints for this question. " +
	"Reply *solution* to see the worked answer, or *more* for a new question."

type practiceAction int

const (
	practiceRevealHint practiceAction = iota
	practiceHintsExhausted
	practiceChangeDifficulty
	practiceNewTopic
	practiceCheckAttempt
	practiceRevealSolution
	practiceNext
	practiceAskTopic
	practiceStart
)

func (a practiceAction) String() string {
	return [...]string{
		"reveal_hint", "hints_exhausted", "change_difficulty", "new_topic",
		"check_attempt", "reveal_solution", "next_question", "ask_topic", "start",
	}[a]
}

// practiceState is the part of a session the practice flow depends on.
// Derived states: no topic, topic selected, question active.
type practiceState struct {
	grade       string
	topic       string
	difficulty  domain.Difficulty
	hasQuestion bool
	hintLevel   int
	hintLimit   int
	// fallbackTopic is a topic known from the intent when the message has no
	// keyword and no topic is sticky yet.
	fallbackTopic string
}

type practiceDecision struct {
	action     practiceAction
	topic      string
	difficulty domain.Difficulty
	// clamped is set when a difficulty change hit the end of the ladder.
	clamped bool
	// fresh skips the question cache; set whenever a question is replaced.
	fresh bool
}

func practiceStateOf(sess *domain.Session, in domain.Intent) practiceState {
	st := practiceState{
		grade:      sess.Grade,
		topic:      sess.PracticeTopic,
		difficulty: sess.PracticeDifficulty,
		hintLevel:  sess.HintLevel,
	}
	if domain.Known(in.Grade) {
		st.grade = in.Grade
	}
	if q := sess.ActiveQuestion; q != nil {
		st.hasQuestion = true
		st.hintLimit = min(len(q.Hints), domain.MaxHints)
	}
	if domain.Known(in.Topic) {
		st.fallbackTopic = in.Topic
	}
	return st
}

// decidePractice is the practice transition table. Rules are checked in
// priority order and the first match wins.
func decidePractice(st practiceState, sig signals) practiceDecision {
	current := st.difficulty
	if !current.Valid() {
		current = domain.InitialDifficulty(st.grade)
	}

	switch {
	case sig.hint && st.hasQuestion:
		if st.hintLevel >= st.hintLimit {
			return practiceDecision{action: practiceHintsExhausted}
		}
		return practiceDecision{action: practiceRevealHint}

	case (sig.easier || sig.harder) && st.topic != "":
		next := current.Harder()
		if sig.easier {
			next = current.Easier()
		}
		return practiceDecision{
			action:     practiceChangeDifficulty,
			topic:      st.topic,
			difficulty: next,
			clamped:    next == current,
			fresh:      true,
		}

	case sig.topic != "" && st.topic != "" && !strings.EqualFold(sig.topic, st.topic):
		return practiceDecision{
			action:     practiceNewTopic,
			topic:      sig.topic,
			difficulty: domain.DifficultyMedium,
			fresh:      st.hasQuestion,
		}

	case sig.attempt && st.hasQuestion:
		return practiceDecision{action: practiceCheckAttempt}

	case sig.solution && st.hasQuestion:
		return practiceDecision{action: practiceRevealSolution}

	case sig.more && st.topic != "":
		return practiceDecision{
			action:     practiceNext,
			topic:      st.topic,
			difficulty: current.Harder(),
			fresh:      true,
		}
	}

	topic := sig.topic
	if topic == "" {
		topic = st.topic
	}
	if topic == "" {
		topic = st.fallbackTopic
	}
	if topic == "" {
		return practiceDecision{action: practiceAskTopic}
	}
	return practiceDecision{
		action:     practiceStart,
		topic:      topic,
		difficulty: domain.InitialDifficulty(st.grade),
		fresh:      st.hasQuestion,
	}
}

// PracticeAgent serves practice questions with hint escalation and difficulty
// progression.
type PracticeAgent struct {
	deps Deps
}

// NewPracticeAgent creates the practice agent.
func NewPracticeAgent(deps Deps) *PracticeAgent {
	return &PracticeAgent{deps: deps.withDefaults()}
}

// ID implements Agent.
func (a *PracticeAgent) ID() ID { return Practice }

// Name implements Agent.
func (a *PracticeAgent) Name() string { return string(Practice) }

// ProcessMessage implements Agent.
func (a *PracticeAgent) ProcessMessage(ctx context.Context, userID string, hc HandoffContext) (Response, error) {
	sess := snapshot(hc)
	sig := readSignals(hc.Turn.Message, hc.Turn.ImageURL)
	d := decidePractice(practiceStateOf(sess, hc.Intent), sig)

	a.deps.Logger.Debug("Practice decision",
		"user_id", userID,
		"action", d.action.String(),
		"topic", d.topic,
		"difficulty", d.difficulty,
	)

	switch d.action {
	case practiceRevealHint, practiceHintsExhausted:
		return revealHint(ctx, a.deps, userID, ExpectPracticeAttempt)
	case practiceCheckAttempt:
		return a.checkAttempt(ctx, userID, sess, hc.Turn.Message)
	case practiceRevealSolution:
		return revealSolution(ctx, a.deps, userID, sess,
			"Say *more* for a harder question, or *easier* for a simpler one.", ExpectPracticeNext)
	case practiceAskTopic:
		return Response{
			Text: "Which topic would you like to practise? For example: " +
				strings.Join(curriculum.Topics(), ", ") + ".",
			Expectation: ExpectTopicSelection,
			Metadata:    metadata("action", d.action.String()),
		}, nil
	default:
		return a.newQuestion(ctx, userID, hc, d)
	}
}

func (a *PracticeAgent) newQuestion(ctx context.Context, userID string, hc HandoffContext, d practiceDecision) (Response, error) {
	q := a.deps.Content.PracticeQuestion(ctx, content.Spec{
		Subject:    resolveSubject(hc, d.topic),
		Grade:      resolveGrade(hc),
		Topic:      d.topic,
		Difficulty: d.difficulty,
		Fresh:      d.fresh,
	})

	_, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
		s.PracticeTopic = d.topic
		s.PracticeDifficulty = d.difficulty
		s.SetActiveQuestion(q)
		s.EndExamFlow()
		s.HasReceivedHelp = true
	})
	if err != nil {
		return Response{}, fmt.Errorf("save practice question: %w", err)
	}

	var b strings.Builder
	switch {
	case d.action == practiceChangeDifficulty && d.clamped && d.difficulty == domain.DifficultyEasy:
		b.WriteString("That's already the easiest level, so here's another one at the same level.\n\n")
	case d.action == practiceChangeDifficulty && d.clamped:
		b.WriteString("You're already at the top level. Here's another challenge!\n\n")
	case d.action == practiceNewTopic:
		fmt.Fprintf(&b, "Switching to %s.\n\n", d.topic)
	}
	fmt.Fprintf(&b, "📝 *%s* (%s)\n\n%s\n\nReply with your answer, or say *hint* if you get stuck.",
		d.topic, d.difficulty, q.Text)

	return Response{
		Text:        b.String(),
		Expectation: ExpectPracticeAttempt,
		Fallback:    q.IsFallback,
		Metadata: metadata(
			"action", d.action.String(),
			"question_id", q.ID,
			"topic", d.topic,
			"difficulty", string(d.difficulty),
			"hint_level", 0,
			"is_fallback", q.IsFallback,
		),
	}, nil
}

func (a *PracticeAgent) checkAttempt(ctx context.Context, userID string, sess *domain.Session, attempt string) (Response, error) {
	fb := a.deps.Content.CheckAttempt(ctx, sess.ActiveQuestion, attempt)
	if _, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
		s.HasReceivedHelp = true
	}); err != nil {
		return Response{}, fmt.Errorf("save attempt: %w", err)
	}

	text := fb.Text
	expectation := ExpectPracticeAttempt
	if fb.Correct {
		text = "✅ " + text + "\n\nSay *more* for a harder question."
		expectation = ExpectPracticeNext
	} else if !fb.Fallback {
		text += "\n\nHave another go, or say *hint*."
	}
	return Response{
		Text:        text,
		Expectation: expectation,
		Fallback:    fb.Fallback,
		Metadata: metadata(
			"action", practiceCheckAttempt.String(),
			"correct", fb.Correct,
			"is_fallback", fb.Fallback,
		),
	}, nil
}

// revealHint advances the hint ladder on the stored session. At the ceiling it
// answers with HintsExhaustedMessage and leaves the session untouched.
func revealHint(ctx context.Context, deps Deps, userID, expectation string) (Response, error) {
	var (
		hint  string
		ok    bool
		level int
		limit int
	)
	_, err := deps.Store.Update(ctx, userID, func(s *domain.Session) {
		hint, ok = s.RevealNextHint()
		level = s.HintLevel
		if s.ActiveQuestion != nil {
			limit = min(len(s.ActiveQuestion.Hints), domain.MaxHints)
		}
	})
	if err != nil {
		return Response{}, fmt.Errorf("save hint level: %w", err)
	}
	if !ok {
		return Response{
			Text:        HintsExhaustedMessage,
			Expectation: expectation,
			Metadata:    metadata("action", practiceHintsExhausted.String(), "hint_level", level),
		}, nil
	}
	return Response{
		Text:        fmt.Sprintf("💡 Hint %d of %d: %s", level, limit, hint),
		Expectation: expectation,
		Metadata:    metadata("action", practiceRevealHint.String(), "hint_level", level),
	}, nil
}

// revealSolution returns the active question's solution, generating and
// storing it first if needed.
func revealSolution(ctx context.Context, deps Deps, userID string, sess *domain.Session, footer, expectation string) (Response, error) {
	q := sess.ActiveQuestion
	solution := q.Solution
	fallback := false
	if !q.HasSolution() {
		sol := deps.Content.PracticeSolution(ctx, q)
		solution, fallback = sol.Text, sol.Fallback
		if !sol.Fallback {
			if _, err := deps.Store.Update(ctx, userID, func(s *domain.Session) {
				if s.ActiveQuestion != nil && s.ActiveQuestion.ID == q.ID {
					s.ActiveQuestion.Solution = sol.Text
				}
				s.HasReceivedHelp = true
			}); err != nil {
				return Response{}, fmt.Errorf("save solution: %w", err)
			}
		} else {
			deps.Logger.Info("Solution unavailable, serving fallback", slog.String("user_id", userID))
		}
	}
	return Response{
		Text:        "✅ Solution:\n\n" + solution + "\n\n" + footer,
		Expectation: expectation,
		Fallback:    fallback,
		Metadata: metadata(
			"action", practiceRevealSolution.String(),
			"question_id", q.ID,
			"is_fallback", fallback,
		),
	}, nil
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
)

// ReturningWelcome greets a learner who has already been helped this session.
const ReturningWelcome = "👋 Welcome back! Ready to carry on? Ask me a question, " +
	"or say *practice*, *homework* or *exam* to pick up where you left off."

// FirstTimeWelcome is the opening message of a session.
func FirstTimeWelcome(name string) string {
	greeting := "👋 Hi!"
	if name = strings.TrimSpace(name); name != "" {
		greeting = fmt.Sprintf("👋 Hi %s!", name)
	}
	return greeting + " I'm your CAPS study buddy. I can help with homework, give you practice questions, " +
		"explain concepts and help you prepare for exams.\n\n" +
		"To get started, which grade are you in and which subject do you need help with?"
}

// Fixed follow-ups used when the model cannot write one.
const (
	askBothFallback    = "To help you best, which grade are you in and which subject do you need help with? (e.g. Grade 11 Mathematics)"
	askGradeFallback   = "Which grade are you in? (e.g. Grade 10)"
	askSubjectFallback = "Which subject would you like help with? (e.g. Mathematics, Physical Sciences or Accounting)"
)

const conversationHistoryTurns = 6

// ConversationAgent handles greetings, onboarding and open conversation. It
// is the router's catch-all, so every model call here has a fixed fallback.
type ConversationAgent struct {
	deps Deps
}

// NewConversationAgent creates the conversation agent.
func NewConversationAgent(deps Deps) *ConversationAgent {
	return &ConversationAgent{deps: deps.withDefaults()}
}

// ID implements Agent.
func (a *ConversationAgent) ID() ID { return Conversation }

// Name implements Agent.
func (a *ConversationAgent) Name() string { return string(Conversation) }

// ProcessMessage implements Agent.
func (a *ConversationAgent) ProcessMessage(ctx context.Context, userID string, hc HandoffContext) (Response, error) {
	sess := snapshot(hc)

	if hc.Intent.Category == domain.CategoryGreeting || !sess.WelcomeSent {
		var variant domain.WelcomeVariant
		updated, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
			variant = s.WelcomeVariant()
			s.WelcomeSent = true
			if hc.Turn.UserName != "" {
				s.UserName = hc.Turn.UserName
			}
		})
		if err != nil {
			return Response{}, fmt.Errorf("save welcome: %w", err)
		}
		switch variant {
		case domain.WelcomeFirstTime:
			return Response{
				Text:        FirstTimeWelcome(hc.Turn.UserName),
				Expectation: missingExpectation(updated),
				Metadata:    metadata("welcome", string(variant)),
			}, nil
		case domain.WelcomeReturning:
			return Response{
				Text:        ReturningWelcome,
				Expectation: ExpectOpenQuestion,
				Metadata:    metadata("welcome", string(variant)),
			}, nil
		}
		sess = updated
	}

	if !sess.HasSubject() || !sess.HasGrade() {
		return a.gatherInfo(ctx, hc, sess), nil
	}
	if isInfoExpectation(sess.LastExpectation) && sess.ActiveQuestion == nil {
		return a.offerDiagnostic(ctx, userID, sess)
	}
	return a.respond(ctx, hc, sess), nil
}

func (a *ConversationAgent) gatherInfo(ctx context.Context, hc HandoffContext, sess *domain.Session) Response {
	expectation := missingExpectation(sess)
	fallback := map[string]string{
		ExpectSubjectAndGrade: askBothFallback,
		ExpectGrade:           askGradeFallback,
		ExpectSubject:         askSubjectFallback,
	}[expectation]

	missing := strings.ReplaceAll(expectation, "_", " ")
	system := "You are a friendly tutor for South African CAPS learners chatting on WhatsApp. " +
		"The learner has not told you their " + missing + " yet. " +
		"Reply to their message in one or two short sentences and ask for it. Plain text only."
	text, ok := a.complete(ctx, system, a.userPrompt(hc, sess))
	if !ok {
		text = fallback
	}
	return Response{
		Text:        text,
		Expectation: expectation,
		Fallback:    !ok,
		Metadata:    metadata("stage", "info_gathering", "missing", missing, "is_fallback", !ok),
	}
}

func (a *ConversationAgent) offerDiagnostic(ctx context.Context, userID string, sess *domain.Session) (Response, error) {
	q := a.deps.Content.Diagnostic(ctx, sess.Subject, sess.Grade)
	if _, err := a.deps.Store.Update(ctx, userID, func(s *domain.Session) {
		s.SetActiveQuestion(q)
		s.EndExamFlow()
		s.HasReceivedHelp = true
	}); err != nil {
		return Response{}, fmt.Errorf("save diagnostic: %w", err)
	}
	text := fmt.Sprintf("Great, Grade %s %s it is! Here's a quick warm-up question so I can see where you're at:\n\n%s\n\n"+
		"Reply with your answer, or say *hint*. You can also ask me to *explain* something, or send a *homework* problem.",
		sess.Grade, sess.Subject, q.Text)
	return Response{
		Text:        text,
		Expectation: ExpectDiagnosticAnswer,
		Fallback:    q.IsFallback,
		Metadata:    metadata("stage", "diagnostic", "question_id", q.ID, "is_fallback", q.IsFallback),
	}, nil
}

func (a *ConversationAgent) respond(ctx context.Context, hc HandoffContext, sess *domain.Session) Response {
	system := fmt.Sprintf("You are a friendly tutor for a Grade %s %s learner following the South African CAPS curriculum, "+
		"chatting on WhatsApp. Answer briefly and warmly. If the learner seems to want structured help, "+
		"mention they can ask for practice questions, homework help, exam preparation or a concept explanation. Plain text only.",
		sess.Grade, sess.Subject)
	text, ok := a.complete(ctx, system, a.userPrompt(hc, sess))
	if !ok {
		text = fmt.Sprintf("I'm here to help with %s. You can ask me to *explain* a concept, send a *homework* problem, "+
			"ask for *practice* questions, or get ready for an *exam*.", sess.Subject)
	}
	md := metadata("stage", "general", "is_fallback", !ok)
	if hc.RoutingError {
		md["routing_error"] = true
		md["intended_agent"] = hc.IntendedAgent
	}
	return Response{
		Text:        text,
		Expectation: ExpectOpenQuestion,
		Fallback:    !ok,
		Metadata:    md,
	}
}

func (a *ConversationAgent) userPrompt(hc HandoffContext, sess *domain.Session) string {
	var b strings.Builder
	if recent := sess.RecentHistory(conversationHistoryTurns); len(recent) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, h := range recent {
			fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Learner: %s", hc.Turn.Message)
	return b.String()
}

func (a *ConversationAgent) complete(ctx context.Context, system, user string) (string, bool) {
	text, err := a.deps.LLM.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: 0.6,
		MaxTokens:   250,
	})
	if err != nil {
		a.deps.Logger.Warn("Conversation completion failed, using fallback", "error", err)
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

func missingExpectation(s *domain.Session) string {
	switch {
	case !s.HasSubject() && !s.HasGrade():
		return ExpectSubjectAndGrade
	case !s.HasGrade():
		return ExpectGrade
	case !s.HasSubject():
		return ExpectSubject
	default:
		return ExpectOpenQuestion
	}
}

func isInfoExpectation(e string) bool {
	return e == ExpectSubjectAndGrade || e == ExpectGrade || e == ExpectSubject
}

package intent

import (
	"fmt"
	"strings"

	"github.com/ashureev/caps-tutor/internal/domain"
)

const promptHistoryTurns = 4

func classifierSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify WhatsApp messages sent to a tutor for South African CAPS learners.\n")
	b.WriteString("Categories:\n")
	b.WriteString("- greeting: hello or small talk opening a chat\n")
	b.WriteString("- homework_help: the learner has a specific problem to solve\n")
	b.WriteString("- practice_request: the learner wants practice questions\n")
	b.WriteString("- exam_preparation: exams, tests, past papers or revision\n")
	b.WriteString("- concept_explanation: the learner wants a concept explained\n")
	b.WriteString("- general_question: anything else\n")
	b.WriteString("Use \"unknown\" for any subject, grade or topic the message and context do not state.\n")
	b.WriteString("Grade is a bare number such as \"11\".\n")
	b.WriteString("Reply with one JSON object matching this schema and nothing else:\n")
	b.WriteString(llmIntentSchema)
	return b.String()
}

func classifierUserPrompt(message string, sess *domain.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Known subject: %s\n", orUnknown(sess.Subject))
	fmt.Fprintf(&b, "Known grade: %s\n", orUnknown(sess.Grade))
	if sess.CurrentAgent != "" {
		fmt.Fprintf(&b, "Previous agent: %s\n", sess.CurrentAgent)
	}
	if sess.LastExpectation != "" {
		fmt.Fprintf(&b, "Tutor is expecting: %s\n", sess.LastExpectation)
	}
	if recent := sess.RecentHistory(promptHistoryTurns); len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, h := range recent {
			fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
		}
	}
	fmt.Fprintf(&b, "\nMessage: %s\n", message)
	return b.String()
}

package brain

import (
	"github.com/ashureev/caps-tutor/internal/agent"
	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/domain"
)

// Target is the agent chosen for a turn. Subject and Grade are set only for
// specialist targets.
type Target struct {
	Agent   agent.ID
	Subject string
	Grade   string
}

// Name is the target's display name, e.g. "practice" or
// "mathematics_grade_11_agent".
func (t Target) Name() string {
	if t.Agent == agent.Specialist {
		return agent.SpecialistName(t.Subject, t.Grade)
	}
	return string(t.Agent)
}

// Decide maps an intent to its target agent. Rules are checked in order and
// the first match wins. A concept request goes to a specialist only for a
// subject and grade the curriculum offers.
func Decide(in domain.Intent, lookup *curriculum.Lookup) Target {
	switch in.Category {
	case domain.CategoryGreeting:
		return Target{Agent: agent.Conversation}
	case domain.CategoryHomeworkHelp:
		return Target{Agent: agent.Homework}
	case domain.CategoryPracticeRequest:
		return Target{Agent: agent.Practice}
	case domain.CategoryExamPreparation:
		return Target{Agent: agent.Exam}
	case domain.CategoryConceptExplanation:
		if lookup.OffersGrade(in.Subject, in.Grade) {
			return Target{Agent: agent.Specialist, Subject: in.Subject, Grade: in.Grade}
		}
		return Target{Agent: agent.Concept}
	default:
		return Target{Agent: agent.Conversation}
	}
}

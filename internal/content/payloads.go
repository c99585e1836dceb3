package content

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/phrase"
)

// ErrAnswerLeak marks generated text that gives away an answer it must not.
var ErrAnswerLeak = errors.New("generated content leaks the answer")

// Concept is an explanation of a topic.
type Concept struct {
	Topic         string
	Explanation   string
	Example       string
	CheckQuestion string
	Fallback      bool
}

// Scaffold is a homework problem broken into steps. Question carries the
// problem and its hints; the solution is filled in on request.
type Scaffold struct {
	Question      *domain.Question
	Understanding string
	Steps         []string
	Fallback      bool
}

// ExamItem is one question in an exam pack.
type ExamItem struct {
	Number int
	Text   string
	Marks  int
}

// ExamPack is an escalating set of exam-style questions.
type ExamPack struct {
	Title    string
	Topic    string
	Mode     domain.ExamMode
	Items    []ExamItem
	Fallback bool
}

// Text renders the pack as it is sent to the learner.
func (p ExamPack) Text() string {
	var b strings.Builder
	b.WriteString(p.Title)
	for _, item := range p.Items {
		fmt.Fprintf(&b, "\n\n%d. %s", item.Number, item.Text)
		if item.Marks > 0 {
			fmt.Fprintf(&b, " (%d marks)", item.Marks)
		}
	}
	return b.String()
}

// Solution is worked solution or memo text.
type Solution struct {
	Text     string
	Fallback bool
}

// Feedback is the result of marking an attempt.
type Feedback struct {
	Correct  bool
	Text     string
	Fallback bool
}

// Model reply shapes. The json tags double as the schema shown to the model.

type conceptPayload struct {
	Explanation   string `json:"explanation" validate:"required,min=20" jsonschema:"required,description=Plain-language explanation pitched at the grade"`
	Example       string `json:"example" validate:"required" jsonschema:"required,description=One short worked example"`
	CheckQuestion string `json:"check_question" jsonschema:"description=A quick question to check understanding"`
}

type scaffoldPayload struct {
	Understanding string   `json:"understanding" validate:"required" jsonschema:"required,description=What the problem is asking"`
	Steps         []string `json:"steps" validate:"min=2,max=8,dive,required" jsonschema:"required,minItems=2,maxItems=8"`
	Hints         []string `json:"hints" validate:"len=3,dive,required" jsonschema:"required,minItems=3,maxItems=3,description=Progressive hints that never state the final answer"`
}

type questionPayload struct {
	Question string   `json:"question" validate:"required,min=10" jsonschema:"required"`
	Hints    []string `json:"hints" validate:"len=3,dive,required" jsonschema:"required,minItems=3,maxItems=3,description=Progressive hints that never state the final answer"`
	Solution string   `json:"solution" validate:"required" jsonschema:"required,description=Full worked solution ending with the final answer on its own line"`
}

type examQuestion struct {
	Text  string `json:"text" validate:"required" jsonschema:"required"`
	Marks int    `json:"marks" validate:"gte=1,lte=30" jsonschema:"required,minimum=1,maximum=30"`
}

type examPayload struct {
	Title     string         `json:"title" validate:"required" jsonschema:"required"`
	Questions []examQuestion `json:"questions" validate:"min=3,max=4,dive" jsonschema:"required,minItems=3,maxItems=4,description=Questions in increasing difficulty"`
}

type solutionPayload struct {
	Steps       []string `json:"steps" validate:"min=1,dive,required" jsonschema:"required,minItems=1"`
	FinalAnswer string   `json:"final_answer" validate:"required" jsonschema:"required"`
}

func (p solutionPayload) format() string {
	var b strings.Builder
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "Step %d: %s\n", i+1, step)
	}
	fmt.Fprintf(&b, "Final answer: %s", p.FinalAnswer)
	return b.String()
}

type feedbackPayload struct {
	Correct  bool   `json:"correct" jsonschema:"required"`
	Feedback string `json:"feedback" validate:"required" jsonschema:"required,description=Encouraging feedback; for a wrong attempt point at the mistake without giving the answer"`
}

var leakPattern = regexp.MustCompile(`(?i)\b(the answer is|final answer|the solution is|answer\s*[:=])`)

// checkLeak rejects text that announces an answer or repeats the last line of
// solution.
func checkLeak(text, solution string) error {
	if leakPattern.MatchString(text) {
		return fmt.Errorf("%w: banned phrase", ErrAnswerLeak)
	}
	if last := finalLine(solution); last != "" && phrase.Normalize(text).Has(last) {
		return fmt.Errorf("%w: contains final line of solution", ErrAnswerLeak)
	}
	return nil
}

func checkQuestionPayload(p *questionPayload) error {
	return checkLeak(strings.Join(p.Hints, "\n"), p.Solution)
}

// finalLine returns the normalised last non-empty line of a solution, or ""
// when it is too short to match reliably.
func finalLine(solution string) string {
	lines := strings.Split(strings.TrimSpace(solution), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := phrase.Normalize(lines[i]).String()
		if line == "" {
			continue
		}
		if len(line) < 4 {
			return ""
		}
		return line
	}
	return ""
}

package content

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
)

const tutorPersona = "You are a patient tutor for South African learners following the CAPS curriculum. " +
	"Write for WhatsApp: short paragraphs, plain text, no LaTeX."

var (
	conceptSchema  = schemaFor(&conceptPayload{})
	scaffoldSchema = schemaFor(&scaffoldPayload{})
	questionSchema = schemaFor(&questionPayload{})
	examSchema     = schemaFor(&examPayload{})
	solutionSchema = schemaFor(&solutionPayload{})
	feedbackSchema = schemaFor(&feedbackPayload{})
)

func schemaFor(v any) string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("content: reflect schema: %v", err))
	}
	return string(data)
}

func systemPrompt(task, schema string) string {
	var b strings.Builder
	b.WriteString(tutorPersona)
	b.WriteString("\n\n")
	b.WriteString(task)
	b.WriteString("\n\nReply with one JSON object matching this schema and nothing else:\n")
	b.WriteString(schema)
	return b.String()
}

func describe(spec Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", known(spec.Subject, "not specified"))
	fmt.Fprintf(&b, "Grade: %s\n", known(spec.Grade, "not specified"))
	fmt.Fprintf(&b, "Topic: %s\n", known(spec.Topic, "learner's choice"))
	if spec.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", spec.Difficulty)
	}
	return b.String()
}

func conceptRequest(spec Spec) llm.Request {
	user := describe(spec)
	if spec.Input != "" {
		user += "\nLearner asked: " + spec.Input
	}
	return llm.Request{
		System:      systemPrompt("Explain the concept the learner asked about, then give one example.", conceptSchema),
		User:        user,
		Temperature: 0.4,
		MaxTokens:   700,
	}
}

func scaffoldRequest(spec Spec) llm.Request {
	var b strings.Builder
	b.WriteString(describe(spec))
	fmt.Fprintf(&b, "\nHomework problem:\n%s\n", spec.Input)
	if spec.ImageURL != "" {
		fmt.Fprintf(&b, "The learner attached an image of the problem: %s\n", spec.ImageURL)
	}
	return llm.Request{
		System: systemPrompt("Guide the learner through their homework problem. "+
			"Do not solve it and never state the final answer. "+
			"Give the steps to follow and exactly three hints, each more specific than the last.", scaffoldSchema),
		User:        b.String(),
		Temperature: 0.3,
		MaxTokens:   800,
	}
}

func practiceRequest(spec Spec) llm.Request {
	return llm.Request{
		System: systemPrompt("Write one practice question at the requested difficulty. "+
			"Include exactly three progressive hints that never reveal the answer, and a full worked solution.", questionSchema),
		User:        describe(spec),
		Temperature: 0.7,
		MaxTokens:   900,
	}
}

func diagnosticRequest(spec Spec) llm.Request {
	return llm.Request{
		System: systemPrompt("Write one short diagnostic question that shows whether the learner is comfortable "+
			"with core content for their grade. Include three progressive hints and a worked solution.", questionSchema),
		User:        describe(spec),
		Temperature: 0.5,
		MaxTokens:   700,
	}
}

func examRequest(spec Spec) llm.Request {
	task := "Write an exam preparation set of %d questions that escalate in difficulty, with marks per question."
	if spec.Mode == domain.ExamModePastPaper {
		task = "Write %d questions in the style of a CAPS past paper, escalating in difficulty, with marks per question."
	}
	return llm.Request{
		System:      systemPrompt(fmt.Sprintf(task, spec.Count), examSchema),
		User:        describe(spec),
		Temperature: 0.6,
		MaxTokens:   1200,
	}
}

func solutionRequest(spec Spec, what string) llm.Request {
	return llm.Request{
		System:      systemPrompt("Write a "+what+" for the question(s) below. Number every step.", solutionSchema),
		User:        describe(spec) + "\n" + spec.Input,
		Temperature: 0.2,
		MaxTokens:   1500,
	}
}

func checkRequest(q *domain.Question, attempt string) llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\n", q.Text)
	if q.Solution != "" {
		fmt.Fprintf(&b, "Reference solution (do not reveal):\n%s\n\n", q.Solution)
	}
	fmt.Fprintf(&b, "Learner's answer: %s\n", attempt)
	return llm.Request{
		System: systemPrompt("Mark the learner's answer. If it is wrong, point at the mistake "+
			"without giving the correct answer.", feedbackSchema),
		User:        b.String(),
		Temperature: 0,
		MaxTokens:   300,
	}
}

func known(v, otherwise string) string {
	if domain.Known(v) {
		return v
	}
	return otherwise
}

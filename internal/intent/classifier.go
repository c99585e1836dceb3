// Package intent classifies inbound learner messages into a routing intent.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/llm"
	"github.com/ashureev/caps-tutor/internal/metrics"
	"github.com/ashureev/caps-tutor/internal/phrase"
)

const (
	greetingConfidence = 0.95
	keywordConfidence  = 0.7
)

// Conversation stages reported alongside an intent.
const (
	StageGreeting      = "greeting"
	StageInfoGathering = "info_gathering"
	StageTutoring      = "tutoring"
	StageFollowUp      = "follow_up"
)

var (
	greetingPattern = regexp.MustCompile(`^(hi|hello|hey|greetings)[!.\s]*$`)
	gradePattern    = regexp.MustCompile(`\bgrade\s*(\d{1,2})\b`)
)

// keywordRules is the deterministic fallback, scanned in order.
var keywordRules = []struct {
	category domain.Category
	words    []string
}{
	{domain.CategoryHomeworkHelp, []string{"homework", "solve", "help", "assignment"}},
	{domain.CategoryPracticeRequest, []string{"practice", "question", "questions", "quiz", "exercise"}},
	{domain.CategoryExamPreparation, []string{"exam", "exams", "test", "paper", "papers"}},
	{domain.CategoryConceptExplanation, []string{"explain", "what is", "what are", "how does", "how do"}},
}

// followUpCommands are replies that continue whatever flow the previous agent
// started rather than open a new request.
var followUpCommands = []string{
	"hint", "stuck", "dont know how", "more", "another", "next",
	"easier", "harder", "solution", "answer", "memo", "show me", "solve it",
}

// flowOwners maps the agent that owns an in-flight flow to its category.
var flowOwners = map[string]domain.Category{
	"homework": domain.CategoryHomeworkHelp,
	"practice": domain.CategoryPracticeRequest,
	"exam":     domain.CategoryExamPreparation,
}

// continuationMaxWords bounds how long a command or topic name may be and
// still count as steering the current flow.
const continuationMaxWords = 6

// diagnosticExpectation is set when the conversation agent has asked a
// warm-up question; the practice agent marks the reply.
const diagnosticExpectation = "diagnostic_answer"

var validate = validator.New()

// llmIntent is the shape the classifier model must return.
type llmIntent struct {
	Category   string  `json:"category" validate:"required,oneof=greeting homework_help practice_request exam_preparation concept_explanation general_question" jsonschema:"required,enum=greeting,enum=homework_help,enum=practice_request,enum=exam_preparation,enum=concept_explanation,enum=general_question,description=Purpose of the message"`
	Subject    string  `json:"subject" validate:"required" jsonschema:"required,description=School subject or unknown"`
	Grade      string  `json:"grade" validate:"required" jsonschema:"required,description=Grade number 1-12 or unknown"`
	Topic      string  `json:"topic" validate:"required" jsonschema:"required,description=Curriculum topic or unknown"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1" jsonschema:"required,minimum=0,maximum=1"`
	Stage      string  `json:"conversation_stage" jsonschema:"description=greeting info_gathering tutoring or follow_up"`
}

var llmIntentSchema = func() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	data, err := json.Marshal(reflector.Reflect(&llmIntent{}))
	if err != nil {
		panic(fmt.Sprintf("intent: reflect schema: %v", err))
	}
	return string(data)
}()

// Classifier turns a message plus the sender's session into an Intent.
type Classifier struct {
	llm        llm.Completer
	curriculum *curriculum.Lookup
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClassifier creates a classifier. m and logger may be nil.
func NewClassifier(c llm.Completer, lookup *curriculum.Lookup, m *metrics.Metrics, logger *slog.Logger) *Classifier {
	if c == nil {
		c = llm.Unavailable{}
	}
	if lookup == nil {
		lookup = curriculum.MustDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: c, curriculum: lookup, metrics: m, logger: logger}
}

// Classify never fails: LLM errors fall back to keyword matching.
func (c *Classifier) Classify(ctx context.Context, message string, sess *domain.Session) domain.Intent {
	if sess == nil {
		sess = &domain.Session{}
	}
	normalized := strings.ToLower(strings.TrimSpace(message))

	if greetingPattern.MatchString(normalized) {
		in := domain.Intent{
			Category:   domain.CategoryGreeting,
			Subject:    orUnknown(sess.Subject),
			Grade:      orUnknown(sess.Grade),
			Topic:      domain.Unknown,
			Confidence: greetingConfidence,
			Stage:      StageGreeting,
			Source:     domain.SourceFastPath,
		}
		c.metrics.ObserveClassification(string(in.Category), string(in.Source))
		return in
	}

	ev := c.evidence(message, normalized)

	in, err := c.classifyLLM(ctx, message, sess)
	if err != nil {
		c.logger.Warn("LLM classification failed, using keyword fallback",
			"user_id", sess.UserID, "error", err)
		in = c.classifyKeywords(normalized)
	}

	in = c.merge(in, ev, sess)
	in = applyContinuation(in, message, sess)

	c.logger.Debug("Classified message",
		"user_id", sess.UserID,
		"category", in.Category,
		"subject", in.Subject,
		"grade", in.Grade,
		"topic", in.Topic,
		"confidence", in.Confidence,
		"source", in.Source,
	)
	c.metrics.ObserveClassification(string(in.Category), string(in.Source))
	return in
}

// evidence is what the message states outright, independent of any model.
type evidence struct {
	grade   string
	subject string
	topic   string
}

func (c *Classifier) evidence(message, normalized string) evidence {
	var ev evidence
	if m := gradePattern.FindStringSubmatch(normalized); m != nil {
		ev.grade = strings.TrimLeft(m[1], "0")
	}
	if s, ok := c.curriculum.DetectSubject(message); ok {
		ev.subject = s
	}
	if t, ok := curriculum.MatchTopic(message); ok {
		ev.topic = t
	}
	return ev
}

func (c *Classifier) classifyLLM(ctx context.Context, message string, sess *domain.Session) (domain.Intent, error) {
	var out llmIntent
	err := llm.CompleteJSON(ctx, c.llm, llm.Request{
		System:      classifierSystemPrompt(),
		User:        classifierUserPrompt(message, sess),
		Temperature: 0,
		MaxTokens:   200,
	}, &out)
	if err != nil {
		return domain.Intent{}, err
	}
	if err := validate.Struct(out); err != nil {
		return domain.Intent{}, fmt.Errorf("invalid classifier reply: %w", err)
	}
	return domain.Intent{
		Category:   domain.Category(out.Category),
		Subject:    strings.TrimSpace(out.Subject),
		Grade:      strings.TrimSpace(out.Grade),
		Topic:      strings.TrimSpace(out.Topic),
		Confidence: out.Confidence,
		Stage:      strings.TrimSpace(out.Stage),
		Source:     domain.SourceLLM,
	}, nil
}

func (c *Classifier) classifyKeywords(normalized string) domain.Intent {
	text := phrase.Normalize(normalized)
	in := domain.Intent{
		Category:   domain.CategoryGeneralQuestion,
		Subject:    domain.Unknown,
		Grade:      domain.Unknown,
		Topic:      domain.Unknown,
		Confidence: keywordConfidence,
		Source:     domain.SourceKeyword,
	}
	for _, rule := range keywordRules {
		if text.HasAny(rule.words...) {
			in.Category = rule.category
			break
		}
	}
	return in
}

// merge resolves subject, grade and topic. The newest explicit statement in
// the message wins. A grade then comes from the session before the model,
// since the model only guesses one when the message states none. A subject
// prefers a known model value over the session. "unknown" from the model
// never clears anything.
func (c *Classifier) merge(in domain.Intent, ev evidence, sess *domain.Session) domain.Intent {
	switch {
	case ev.grade != "":
		in.Grade = ev.grade
	case sess.HasGrade():
		in.Grade = sess.Grade
	case domain.Known(in.Grade):
		in.Grade = strings.TrimLeft(strings.TrimPrefix(strings.ToLower(in.Grade), "grade "), "0")
	default:
		in.Grade = domain.Unknown
	}

	switch {
	case domain.Known(in.Topic):
	case ev.topic != "":
		in.Topic = ev.topic
	default:
		in.Topic = domain.Unknown
	}

	switch {
	case ev.subject != "":
		in.Subject = ev.subject
	case domain.Known(in.Subject):
		if info, ok := c.curriculum.SubjectInfo(in.Subject, in.Grade); ok {
			in.Subject = info.CanonicalName
		}
	case sess.HasSubject():
		in.Subject = sess.Subject
	default:
		in.Subject = domain.Unknown
		if s, ok := curriculum.SubjectForTopic(in.Topic); ok {
			in.Subject = s
		}
	}

	if in.Stage == "" {
		in.Stage = StageTutoring
		if !domain.Known(in.Subject) || !domain.Known(in.Grade) {
			in.Stage = StageInfoGathering
		}
	}
	return in
}

// applyContinuation pins short follow-up commands, answer attempts and bare
// topic switches to the agent that owns the in-flight flow.
func applyContinuation(in domain.Intent, message string, sess *domain.Session) domain.Intent {
	owner, ok := flowOwners[sess.CurrentAgent]
	if !ok && sess.LastExpectation == diagnosticExpectation {
		owner, ok = domain.CategoryPracticeRequest, true
	}
	if !ok || !flowInProgress(sess) {
		return in
	}
	text := phrase.Normalize(message)
	short := text.Words() <= continuationMaxWords
	isFollowUp := short && text.HasAny(followUpCommands...)
	// Exam packs are worked offline; only practice and homework mark replies.
	isAttempt := owner != domain.CategoryExamPreparation && LooksLikeAnswer(message)
	_, namesTopic := curriculum.MatchTopic(message)
	isTopicSwitch := short && namesTopic && owner != domain.CategoryHomeworkHelp &&
		!asksForOtherFlow(text, owner)
	if !isFollowUp && !isAttempt && !isTopicSwitch {
		return in
	}
	in.Category = owner
	in.Stage = StageFollowUp
	return in
}

// asksForOtherFlow reports whether the message carries a request keyword
// for a category other than owner, as in "explain functions".
func asksForOtherFlow(text phrase.Text, owner domain.Category) bool {
	for _, rule := range keywordRules {
		if rule.category != owner && text.HasAny(rule.words...) {
			return true
		}
	}
	return false
}

func flowInProgress(sess *domain.Session) bool {
	if sess.CurrentAgent == "exam" {
		return sess.ExamFlow != nil && sess.ExamFlow.Active
	}
	return sess.ActiveQuestion != nil
}

var answerPattern = regexp.MustCompile(`^([a-z]\s*=\s*)?-?[\d(][\d\s.,;/()+\-*^x=°]*$`)

// LooksLikeAnswer reports whether a message reads like an attempted answer to
// a maths question, such as "x = 3", "12.5" or "the answer is 4".
func LooksLikeAnswer(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" || len(m) > 60 {
		return false
	}
	m = strings.TrimPrefix(m, "the answer is ")
	m = strings.TrimPrefix(m, "i got ")
	m = strings.TrimPrefix(m, "its ")
	m = strings.TrimPrefix(m, "it's ")
	return answerPattern.MatchString(m)
}

func orUnknown(v string) string {
	if domain.Known(v) {
		return v
	}
	return domain.Unknown
}

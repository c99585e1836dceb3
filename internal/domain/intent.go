package domain

// Category is the classified purpose of an inbound message.
type Category string

const (
	CategoryGreeting           Category = "greeting"
	CategoryHomeworkHelp       Category = "homework_help"
	CategoryPracticeRequest    Category = "practice_request"
	CategoryExamPreparation    Category = "exam_preparation"
	CategoryConceptExplanation Category = "concept_explanation"
	CategoryGeneralQuestion    Category = "general_question"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{
		CategoryGreeting,
		CategoryHomeworkHelp,
		CategoryPracticeRequest,
		CategoryExamPreparation,
		CategoryConceptExplanation,
		CategoryGeneralQuestion,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, v := range Categories() {
		if v == c {
			return true
		}
	}
	return false
}

// IntentSource records which classification path produced an intent.
type IntentSource string

const (
	SourceFastPath IntentSource = "fast_path"
	SourceLLM      IntentSource = "llm"
	SourceKeyword  IntentSource = "keyword"
)

// Intent is the structured classification of one inbound message.
type Intent struct {
	Category   Category     `json:"category"`
	Subject    string       `json:"subject"`
	Grade      string       `json:"grade"`
	Topic      string       `json:"topic"`
	Confidence float64      `json:"confidence"`
	Stage      string       `json:"conversation_stage"`
	Source     IntentSource `json:"source"`
}

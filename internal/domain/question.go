package domain

// MaxHints is the number of progressive hints a question can reveal.
const MaxHints = 3

// Question is the item currently being worked through by a learner. For exam
// flows the whole pack is held as a single question.
type Question struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Topic      string     `json:"topic"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	Subject    string     `json:"subject"`
	Grade      string     `json:"grade"`
	Hints      []string   `json:"hints,omitempty"`
	Solution   string     `json:"solution,omitempty"`
	IsFallback bool       `json:"is_fallback"`
}

// HasSolution reports whether a solution has already been generated.
func (q *Question) HasSolution() bool {
	return q != nil && q.Solution != ""
}

// Clone returns a deep copy of the question.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	c := *q
	c.Hints = append([]string(nil), q.Hints...)
	return &c
}

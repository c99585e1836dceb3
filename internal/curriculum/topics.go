package curriculum

import (
	"strings"

	"github.com/ashureev/caps-tutor/internal/phrase"
)

type topicKeywords struct {
	topic    string
	subject  string
	keywords []string
}

// topicTable is scanned in order; the first topic with a matching keyword wins.
var topicTable = []topicKeywords{
	{"Trigonometry", "Mathematics", []string{"trigonometry", "trig", "sine", "cosine", "tangent", "sin", "cos", "tan"}},
	{"Calculus", "Mathematics", []string{"calculus", "derivative", "differentiate", "differentiation", "first principles", "integral"}},
	{"Functions", "Mathematics", []string{"functions", "function", "graphs", "parabola", "hyperbola", "exponential graph"}},
	{"Algebra", "Mathematics", []string{"algebra", "equation", "equations", "factorise", "factorize", "inequalities", "quadratic", "exponents", "surds"}},
	{"Geometry", "Mathematics", []string{"geometry", "euclidean", "circle theorems", "triangle", "triangles", "analytical geometry"}},
	{"Statistics", "Mathematics", []string{"statistics", "stats", "median", "standard deviation", "histogram"}},
	{"Probability", "Mathematics", []string{"probability", "chance", "venn", "tree diagram"}},
}

// Topics lists every topic the keyword table can detect.
func Topics() []string {
	out := make([]string, 0, len(topicTable))
	for _, t := range topicTable {
		out = append(out, t.topic)
	}
	return out
}

// MatchTopic detects a topic keyword in free text using whole-word matching.
func MatchTopic(message string) (string, bool) {
	text := phrase.Normalize(message)
	for _, t := range topicTable {
		if text.HasAny(t.keywords...) {
			return t.topic, true
		}
	}
	return "", false
}

// SubjectForTopic returns the subject a table topic belongs to.
func SubjectForTopic(topic string) (string, bool) {
	for _, t := range topicTable {
		if strings.EqualFold(t.topic, topic) {
			return t.subject, true
		}
	}
	return "", false
}

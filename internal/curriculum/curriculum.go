// Package curriculum provides lookups over an embedded subset of the CAPS
// curriculum: canonical subject names, grades and topics.
package curriculum

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed caps.yaml
var capsYAML []byte

// Info describes one subject at one grade.
type Info struct {
	CanonicalName string   `json:"canonical_name"`
	Grades        []string `json:"grades"`
	Topics        []string `json:"topics"`
}

type subject struct {
	Name    string              `yaml:"name"`
	Aliases []string            `yaml:"aliases"`
	Grades  []string            `yaml:"grades"`
	Topics  map[string][]string `yaml:"topics"`
}

type document struct {
	Subjects []subject `yaml:"subjects"`
}

// Lookup answers curriculum questions. It holds no mutable state.
type Lookup struct {
	subjects []subject
}

// Default parses the embedded curriculum table.
func Default() (*Lookup, error) {
	return Parse(capsYAML)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Lookup {
	l, err := Default()
	if err != nil {
		panic("curriculum: " + err.Error())
	}
	return l
}

// Parse builds a Lookup from a YAML curriculum document.
func Parse(data []byte) (*Lookup, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse curriculum: %w", err)
	}
	if len(doc.Subjects) == 0 {
		return nil, fmt.Errorf("parse curriculum: no subjects defined")
	}
	return &Lookup{subjects: doc.Subjects}, nil
}

// SubjectInfo resolves a loosely written subject name for a grade. The grade
// may be empty or "unknown", in which case Topics is empty.
func (l *Lookup) SubjectInfo(name, grade string) (*Info, bool) {
	s, ok := l.resolve(name)
	if !ok {
		return nil, false
	}
	info := &Info{
		CanonicalName: s.Name,
		Grades:        append([]string(nil), s.Grades...),
	}
	if topics, ok := s.Topics[strings.TrimSpace(grade)]; ok {
		info.Topics = append([]string(nil), topics...)
	}
	return info, true
}

// OffersGrade reports whether the subject is taught at the grade. A nil
// Lookup offers nothing.
func (l *Lookup) OffersGrade(name, grade string) bool {
	if l == nil {
		return false
	}
	s, ok := l.resolve(name)
	if !ok {
		return false
	}
	return slices.Contains(s.Grades, strings.TrimSpace(grade))
}

// Pairs lists every (subject, grade) combination in the table.
func (l *Lookup) Pairs() [][2]string {
	var out [][2]string
	for _, s := range l.subjects {
		for _, g := range s.Grades {
			out = append(out, [2]string{s.Name, g})
		}
	}
	return out
}

// DetectSubject scans free text for a subject name or alias.
func (l *Lookup) DetectSubject(message string) (string, bool) {
	text := " " + normalise(message) + " "
	best, bestLen := "", 0
	for _, s := range l.subjects {
		for _, alias := range append([]string{s.Name}, s.Aliases...) {
			a := normalise(alias)
			if len(a) > bestLen && strings.Contains(text, " "+a+" ") {
				best, bestLen = s.Name, len(a)
			}
		}
	}
	return best, best != ""
}

func (l *Lookup) resolve(name string) (subject, bool) {
	n := normalise(name)
	if n == "" || n == "unknown" {
		return subject{}, false
	}
	for _, s := range l.subjects {
		if normalise(s.Name) == n || lo.Contains(lo.Map(s.Aliases, func(a string, _ int) string { return normalise(a) }), n) {
			return s, true
		}
	}

	// Loose spelling: pick the closest candidate by edit distance.
	var candidates []string
	owner := make(map[string]subject)
	for _, s := range l.subjects {
		for _, c := range append([]string{s.Name}, s.Aliases...) {
			c = normalise(c)
			candidates = append(candidates, c)
			owner[c] = s
		}
	}
	ranks := fuzzy.RankFindNormalizedFold(n, candidates)
	if len(ranks) == 0 {
		return subject{}, false
	}
	best := slices.MinFunc(ranks, func(a, b fuzzy.Rank) int { return a.Distance - b.Distance })
	return owner[best.Target], true
}

func normalise(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

package agent

import (
	"regexp"

	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/intent"
	"github.com/ashureev/caps-tutor/internal/phrase"
)

// Phrase families, matched on whole words after normalisation.
var (
	hintPhrases     = []string{"hint", "hints", "stuck", "dont know how", "clue"}
	easierPhrases   = []string{"easier", "simpler", "too hard", "too difficult"}
	harderPhrases   = []string{"harder", "more difficult", "challenge me", "too easy", "tougher"}
	solutionPhrases = []string{"solution", "answer", "answers", "show me", "solve it", "memo", "working"}
	morePhrases     = []string{"more", "another", "next", "again"}
	pastPaperPhrase = []string{"past paper", "past papers", "previous paper", "old paper", "paper 1", "paper 2", "past exam"}
)

var mathsContent = regexp.MustCompile(`[\d=+*/^²³√]|\s-\s`)

// signals are the recognised commands in one message.
type signals struct {
	hint      bool
	easier    bool
	harder    bool
	solution  bool
	more      bool
	attempt   bool
	topic     string
	pastPaper bool
	problem   bool
}

func readSignals(message, imageURL string) signals {
	text := phrase.Normalize(message)
	sig := signals{
		hint:      text.HasAny(hintPhrases...),
		easier:    text.HasAny(easierPhrases...),
		solution:  text.HasAny(solutionPhrases...),
		more:      text.HasAny(morePhrases...),
		attempt:   intent.LooksLikeAnswer(message),
		pastPaper: text.HasAny(pastPaperPhrase...),
	}
	// "easier" wins when a message names both directions.
	sig.harder = !sig.easier && text.HasAny(harderPhrases...)
	if t, ok := curriculum.MatchTopic(message); ok {
		sig.topic = t
	}
	sig.problem = imageURL != "" || (!sig.attempt && (mathsContent.MatchString(message) || text.Words() >= 8))
	return sig
}

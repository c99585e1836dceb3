package content

import (
	"fmt"

	"github.com/ashureev/caps-tutor/internal/domain"
)

type fixedQuestion struct {
	text     string
	hints    []string
	solution string
}

// fallbackQuestions are served when generation fails, keyed by topic.
var fallbackQuestions = map[string]fixedQuestion{
	"Algebra": {
		text: "Solve for x: 3x - 7 = 2x + 5",
		hints: []string{
			"Get all the x terms on one side of the equals sign.",
			"Subtract 2x from both sides. What is left on the left?",
			"You should have x - 7 = 5. Now undo the -7.",
		},
		solution: "3x - 7 = 2x + 5\n3x - 2x = 5 + 7\nx = 12",
	},
	"Trigonometry": {
		text: "In right-angled triangle ABC, angle B = 90°, AB = 5 and BC = 12. Calculate AC and then sin A.",
		hints: []string{
			"AC is the hypotenuse. Which theorem links the three sides?",
			"Use AC² = AB² + BC².",
			"sin A is the side opposite A divided by the hypotenuse.",
		},
		solution: "AC² = 5² + 12² = 169, so AC = 13\nsin A = opposite/hypotenuse = BC/AC\nsin A = 12/13",
	},
	"Functions": {
		text: "Given f(x) = x² - 4x + 3, find the x-intercepts and the turning point of the graph.",
		hints: []string{
			"x-intercepts are where f(x) = 0.",
			"Factorise x² - 4x + 3 into two brackets.",
			"The turning point lies halfway between the x-intercepts.",
		},
		solution: "x² - 4x + 3 = (x - 1)(x - 3) = 0\nx-intercepts: x = 1 and x = 3\nTurning point x = 2, f(2) = 4 - 8 + 3 = -1\nTurning point (2; -1)",
	},
	"Geometry": {
		text: "Two angles of a triangle are 47° and 68°. Calculate the third angle and say what type of triangle it is.",
		hints: []string{
			"What do the interior angles of any triangle add up to?",
			"Subtract the two known angles from 180°.",
			"Check whether any angle is 90° or more.",
		},
		solution: "Angles in a triangle add up to 180°\n180° - 47° - 68° = 65°\nAll angles are less than 90°, so the triangle is acute",
	},
	"Statistics": {
		text: "Find the mean, median and range of the data set: 4, 8, 6, 5, 3, 8, 9",
		hints: []string{
			"For the mean, add all the values and divide by how many there are.",
			"For the median, sort the values first.",
			"The range is the largest value minus the smallest.",
		},
		solution: "Sum = 43, n = 7, mean = 43/7 ≈ 6.14\nSorted: 3, 4, 5, 6, 8, 8, 9, median = 6\nRange = 9 - 3 = 6",
	},
	"Probability": {
		text: "A bag holds 3 red, 5 blue and 2 green marbles. One marble is drawn at random. What is the probability that it is not blue?",
		hints: []string{
			"How many marbles are there altogether?",
			"How many marbles are not blue?",
			"P(not blue) = 1 - P(blue).",
		},
		solution: "Total = 3 + 5 + 2 = 10\nNot blue = 3 + 2 = 5\nP(not blue) = 5/10 = 1/2",
	},
	"Calculus": {
		text: "Determine f'(x) if f(x) = 2x³ - 5x² + 4x - 1, then calculate f'(1).",
		hints: []string{
			"Differentiate term by term.",
			"Use the power rule: the derivative of axⁿ is n·a·xⁿ⁻¹.",
			"Substitute x = 1 into your derivative.",
		},
		solution: "f'(x) = 6x² - 10x + 4\nf'(1) = 6 - 10 + 4\nf'(1) = 0",
	},
}

var defaultFallbackQuestion = fixedQuestion{
	text: "Simplify: 2(3a - 4) - (a - 5)",
	hints: []string{
		"Multiply out each bracket first.",
		"The minus in front of the second bracket changes both signs inside it.",
		"Collect the a terms, then the constants.",
	},
	solution: "6a - 8 - a + 5\n5a - 3",
}

func fallbackPractice(spec Spec) *domain.Question {
	fq, ok := fallbackQuestions[spec.Topic]
	if !ok {
		fq = defaultFallbackQuestion
	}
	return newQuestion(spec, fq.text, fq.hints, fq.solution, true)
}

func fallbackDiagnostic(spec Spec) *domain.Question {
	if spec.Subject == "Mathematics" || !domain.Known(spec.Subject) {
		return newQuestion(spec, defaultFallbackQuestion.text, defaultFallbackQuestion.hints, defaultFallbackQuestion.solution, true)
	}
	text := fmt.Sprintf("In two or three sentences, explain one %s idea from this term that you find tricky.", spec.Subject)
	return newQuestion(spec, text, []string{
		"Think about the last test or homework that felt hard.",
		"Name the idea first, then say what confuses you about it.",
		"An example from class makes it easier for me to help.",
	}, "", true)
}

func fallbackConcept(spec Spec) Concept {
	topic := known(spec.Topic, "this topic")
	return Concept{
		Topic: spec.Topic,
		Explanation: fmt.Sprintf("I can't put together a full explanation of %s right now. "+
			"A good way in is to find the definition in your textbook, then work through the first worked example line by line.", topic),
		Example:       "Send me a specific question from your textbook and I'll walk you through it.",
		CheckQuestion: fmt.Sprintf("Which part of %s feels least clear to you?", topic),
		Fallback:      true,
	}
}

func fallbackScaffold(spec Spec) Scaffold {
	q := newQuestion(spec, spec.Input, []string{
		"Write down what is given and what you need to find.",
		"Which formula or rule from this topic links what you know to what you need?",
		"Substitute the values you know and simplify one step at a time.",
	}, "", true)
	return Scaffold{
		Question:      q,
		Understanding: "Let's break this problem down together.",
		Steps: []string{
			"Read the question twice and underline the key information.",
			"Decide which method or formula applies.",
			"Work step by step and check your answer makes sense.",
		},
		Fallback: true,
	}
}

func fallbackExamPack(spec Spec) ExamPack {
	topic := known(spec.Topic, "mixed topics")
	return ExamPack{
		Title: fmt.Sprintf("Exam practice: %s", topic),
		Topic: spec.Topic,
		Mode:  spec.Mode,
		Items: []ExamItem{
			{Number: 1, Text: fmt.Sprintf("State two key definitions or rules from %s and give an example of each.", topic), Marks: 4},
			{Number: 2, Text: fmt.Sprintf("Solve a standard textbook problem on %s, showing every step.", topic), Marks: 6},
			{Number: 3, Text: fmt.Sprintf("Attempt the hardest %s question from your last test again without notes.", topic), Marks: 10},
		},
		Fallback: true,
	}
}

func fallbackSolution(spec Spec) Solution {
	return Solution{
		Text: "I can't generate the full working right now.\n" +
			"Step 1: Write down what is given and what is asked.\n" +
			"Step 2: Pick the method from your notes that matches the question.\n" +
			"Step 3: Show every line of working; most marks are for method.\n" +
			"Ask me again in a little while for the complete memo.",
		Fallback: true,
	}
}

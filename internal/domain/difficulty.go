package domain

import (
	"strconv"
	"strings"
)

// Difficulty is a rung on the practice difficulty ladder.
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyHard      Difficulty = "hard"
	DifficultyChallenge Difficulty = "challenge"
)

var difficultyLadder = []Difficulty{
	DifficultyEasy,
	DifficultyMedium,
	DifficultyHard,
	DifficultyChallenge,
}

// Valid reports whether d is on the ladder.
func (d Difficulty) Valid() bool {
	return d.rank() >= 0
}

// Easier returns the next rung down, clamped at easy.
func (d Difficulty) Easier() Difficulty {
	return d.step(-1)
}

// Harder returns the next rung up, clamped at challenge.
func (d Difficulty) Harder() Difficulty {
	return d.step(1)
}

func (d Difficulty) step(delta int) Difficulty {
	r := d.rank()
	if r < 0 {
		return DifficultyMedium
	}
	r += delta
	r = max(0, min(r, len(difficultyLadder)-1))
	return difficultyLadder[r]
}

func (d Difficulty) rank() int {
	for i, v := range difficultyLadder {
		if v == d {
			return i
		}
	}
	return -1
}

// InitialDifficulty is the starting rung for a grade: senior grades start at
// medium, everyone else at easy.
func InitialDifficulty(grade string) Difficulty {
	n, err := strconv.Atoi(strings.TrimSpace(grade))
	if err == nil && n >= 11 {
		return DifficultyMedium
	}
	return DifficultyEasy
}

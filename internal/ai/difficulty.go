// Package ai decides when and how computer-controlled players act, pacing
// their commands off the shared clock and pluggable strategies.
package ai

import (
	"fmt"
	"strings"
)

// Difficulty gates how frequently AI players act and how well they play.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Normal Difficulty = "normal"
	Hard   Difficulty = "hard"
	Expert Difficulty = "expert"
)

// ParseDifficulty normalises a difficulty label.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "easy":
		return Easy, nil
	case "normal", "":
		return Normal, nil
	case "hard":
		return Hard, nil
	case "expert":
		return Expert, nil
	default:
		return Normal, fmt.Errorf("unknown difficulty %q", raw)
	}
}

// ActionsPerSecond maps the difficulty to its target AI action rate.
func (d Difficulty) ActionsPerSecond() int {
	switch d {
	case Easy:
		return 1
	case Hard:
		return 3
	case Expert:
		return 5
	default:
		return 2
	}
}

// TicksPerAction translates the action rate into clock ticks between actions
// at the given tick rate, never returning less than one tick.
func TicksPerAction(d Difficulty, tickRate int) uint64 {
	if tickRate <= 0 {
		tickRate = 10
	}
	interval := tickRate / d.ActionsPerSecond()
	if interval < 1 {
		interval = 1
	}
	return uint64(interval)
}

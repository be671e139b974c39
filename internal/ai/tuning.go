package ai

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights expresses a strategy's relative preference per action family.
type Weights struct {
	Move      float64 `yaml:"move"`
	Build     float64 `yaml:"build"`
	Attack    float64 `yaml:"attack"`
	Colonize  float64 `yaml:"colonize"`
	Diplomacy float64 `yaml:"diplomacy"`
	Transfer  float64 `yaml:"transfer"`
}

// Scale multiplies every weight by the factor, leaving relative preference
// intact while damping overall decisiveness.
func (w Weights) Scale(factor float64) Weights {
	if factor <= 0 {
		return Weights{}
	}
	return Weights{
		Move:      w.Move * factor,
		Build:     w.Build * factor,
		Attack:    w.Attack * factor,
		Colonize:  w.Colonize * factor,
		Diplomacy: w.Diplomacy * factor,
		Transfer:  w.Transfer * factor,
	}
}

// DifficultySettings tunes how sharply a difficulty level plays.
type DifficultySettings struct {
	Effectiveness      float64 `yaml:"effectiveness"`
	MistakeProbability float64 `yaml:"mistake_probability"`
}

// Tuning collects every strategy and difficulty knob, overridable from YAML.
type Tuning struct {
	Strategies   map[string]Weights                `yaml:"strategies"`
	Difficulties map[Difficulty]DifficultySettings `yaml:"difficulties"`
}

// DefaultTuning returns the built-in strategy weights and difficulty curves.
func DefaultTuning() *Tuning {
	return &Tuning{
		Strategies: map[string]Weights{
			StrategyAggressive: {Move: 3, Build: 1, Attack: 5, Colonize: 1, Diplomacy: 0.5, Transfer: 0.5},
			StrategyEconomic:   {Move: 1, Build: 5, Attack: 0.5, Colonize: 2, Diplomacy: 1, Transfer: 2},
			StrategyDefensive:  {Move: 0.5, Build: 4, Attack: 1, Colonize: 1, Diplomacy: 2, Transfer: 1},
			StrategyBalanced:   {Move: 2, Build: 2, Attack: 2, Colonize: 2, Diplomacy: 1, Transfer: 1},
			StrategyRandom:     {Move: 1, Build: 1, Attack: 1, Colonize: 1, Diplomacy: 1, Transfer: 1},
		},
		Difficulties: map[Difficulty]DifficultySettings{
			Easy:   {Effectiveness: 0.5, MistakeProbability: 0.30},
			Normal: {Effectiveness: 0.75, MistakeProbability: 0.15},
			Hard:   {Effectiveness: 0.9, MistakeProbability: 0.05},
			Expert: {Effectiveness: 1.0, MistakeProbability: 0.0},
		},
	}
}

// LoadTuning overlays the YAML file at path onto the defaults. An empty path
// returns the defaults untouched.
func LoadTuning(path string) (*Tuning, error) {
	tuning := DefaultTuning()
	if path == "" {
		return tuning, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	overlay := &Tuning{}
	if err := yaml.Unmarshal(raw, overlay); err != nil {
		return nil, fmt.Errorf("parse tuning file: %w", err)
	}
	for name, weights := range overlay.Strategies {
		tuning.Strategies[name] = weights
	}
	for level, settings := range overlay.Difficulties {
		tuning.Difficulties[level] = settings
	}
	return tuning, nil
}

// WeightsFor returns the configured weights for a strategy name, falling back
// to the balanced preset for unknown names.
func (t *Tuning) WeightsFor(name string) Weights {
	if t != nil {
		if weights, ok := t.Strategies[name]; ok {
			return weights
		}
	}
	return DefaultTuning().Strategies[StrategyBalanced]
}

// SettingsFor returns the difficulty settings, defaulting to normal.
func (t *Tuning) SettingsFor(level Difficulty) DifficultySettings {
	if t != nil {
		if settings, ok := t.Difficulties[level]; ok {
			return settings
		}
	}
	return DefaultTuning().Difficulties[Normal]
}

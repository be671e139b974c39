package ai

import (
	"fmt"
	"math/rand"

	"galaxion/sync/internal/game"
)

// Strategy names selectable at player registration.
const (
	StrategyAggressive = "aggressive"
	StrategyEconomic   = "economic"
	StrategyDefensive  = "defensive"
	StrategyBalanced   = "balanced"
	StrategyRandom     = "random"
)

// Strategy generates commands for one AI player given a read-only world copy.
// Implementations must not retain or mutate the supplied world.
type Strategy interface {
	Name() string
	GenerateCommands(playerID string, world *game.World) ([]game.Event, error)
}

// StrategyOption configures optional strategy behaviour.
type StrategyOption func(*weightedStrategy)

// WithStrategyRand injects the random source used for weighted choice, so
// tests can fix decisions.
func WithStrategyRand(random func() float64) StrategyOption {
	return func(s *weightedStrategy) {
		if random != nil {
			s.random = random
		}
	}
}

// NewStrategy builds a named strategy from tuning weights. All presets share
// one weighted decision engine; only their weight tables differ.
func NewStrategy(name string, tuning *Tuning, opts ...StrategyOption) (Strategy, error) {
	switch name {
	case StrategyAggressive, StrategyEconomic, StrategyDefensive, StrategyBalanced, StrategyRandom:
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	strategy := &weightedStrategy{
		name:    name,
		weights: tuning.WeightsFor(name),
		random:  rand.Float64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(strategy)
		}
	}
	return strategy, nil
}

// AdjustForDifficulty scales the strategy's internal weights by the
// difficulty's effectiveness and wraps it with the configured mistake
// probability. The underlying decision algorithm is untouched.
func AdjustForDifficulty(strategy Strategy, level Difficulty, tuning *Tuning) Strategy {
	settings := tuning.SettingsFor(level)
	if weighted, ok := strategy.(*weightedStrategy); ok {
		scaled := *weighted
		scaled.weights = weighted.weights.Scale(settings.Effectiveness)
		strategy = &scaled
	}
	if settings.MistakeProbability <= 0 {
		return strategy
	}
	random := rand.Float64
	if weighted, ok := strategy.(*weightedStrategy); ok {
		random = weighted.random
	}
	return &fallibleStrategy{
		inner:       strategy,
		mistakeProb: settings.MistakeProbability,
		random:      random,
	}
}

// weightedStrategy scores the candidate actions available to the player and
// picks one by weighted random choice.
type weightedStrategy struct {
	name    string
	weights Weights
	random  func() float64
}

// Name identifies the strategy preset.
func (s *weightedStrategy) Name() string { return s.name }

// candidate pairs a ready-to-enqueue event with its selection weight.
type candidate struct {
	weight float64
	event  game.Event
}

// GenerateCommands inspects the world for actions the player can afford and
// selects at most one per invocation.
func (s *weightedStrategy) GenerateCommands(playerID string, world *game.World) ([]game.Event, error) {
	player, ok := world.FindPlayer(playerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrUnknownPlayer, playerID)
	}

	candidates := s.collectCandidates(player, world)
	if len(candidates) == 0 {
		return nil, nil
	}

	total := 0.0
	for _, c := range candidates {
		total += c.weight
	}
	if total <= 0 {
		return nil, nil
	}
	//1.- Walk the cumulative weight line so preset tables bias but never fix the pick.
	roll := s.random() * total
	for _, c := range candidates {
		roll -= c.weight
		if roll < 0 {
			return []game.Event{c.event}, nil
		}
	}
	return []game.Event{candidates[len(candidates)-1].event}, nil
}

func (s *weightedStrategy) collectCandidates(player *game.Player, world *game.World) []candidate {
	var candidates []candidate

	fleets := world.FleetsOwnedBy(player.ID)
	owned := world.PlanetsOwnedBy(player.ID)

	if s.weights.Move > 0 && len(fleets) > 0 {
		if event := s.moveCandidate(player, world, fleets[0]); event != nil {
			candidates = append(candidates, candidate{weight: s.weights.Move, event: event})
		}
	}
	if s.weights.Build > 0 && len(owned) > 0 &&
		player.Resources.Credits >= 100 && player.Resources.Materials >= 50 {
		planetID := owned[0]
		planet, _ := world.FindPlanet(planetID)
		candidates = append(candidates, candidate{weight: s.weights.Build, event: &game.BuildStructure{
			PlayerID:    player.ID,
			PlanetID:    planetID,
			StructureID: fmt.Sprintf("%s-st-%d", planetID, len(planet.Structures)+1),
			Type:        "mine",
		}})
	}
	if s.weights.Attack > 0 && len(fleets) > 0 {
		if event := s.attackCandidate(player, world, fleets[0]); event != nil {
			candidates = append(candidates, candidate{weight: s.weights.Attack, event: event})
		}
	}
	if s.weights.Colonize > 0 && player.Resources.Credits >= 200 {
		if event := s.colonizeCandidate(player, world); event != nil {
			candidates = append(candidates, candidate{weight: s.weights.Colonize, event: event})
		}
	}
	if s.weights.Diplomacy > 0 {
		if event := s.diplomacyCandidate(player, world); event != nil {
			candidates = append(candidates, candidate{weight: s.weights.Diplomacy, event: event})
		}
	}
	if s.weights.Transfer > 0 && player.Resources.Credits >= 50 {
		if event := s.transferCandidate(player, world); event != nil {
			candidates = append(candidates, candidate{weight: s.weights.Transfer, event: event})
		}
	}
	return candidates
}

func (s *weightedStrategy) moveCandidate(player *game.Player, world *game.World, fleetID string) game.Event {
	origin, fleet, ok := world.FindFleet(fleetID)
	if !ok || player.Resources.Fuel < int64(fleet.Ships) {
		return nil
	}
	for i := range world.Systems {
		for j := range world.Systems[i].Planets {
			planet := &world.Systems[i].Planets[j]
			if planet.ID != origin.ID {
				return &game.MoveFleet{
					PlayerID:     player.ID,
					FleetID:      fleetID,
					FromPlanetID: origin.ID,
					ToPlanetID:   planet.ID,
				}
			}
		}
	}
	return nil
}

func (s *weightedStrategy) attackCandidate(player *game.Player, world *game.World, fleetID string) game.Event {
	origin, _, ok := world.FindFleet(fleetID)
	if !ok {
		return nil
	}
	for _, other := range origin.Fleets {
		if other.OwnerID != player.ID {
			return &game.Attack{PlayerID: player.ID, FleetID: fleetID, TargetFleetID: other.ID}
		}
	}
	return nil
}

func (s *weightedStrategy) colonizeCandidate(player *game.Player, world *game.World) game.Event {
	for i := range world.Systems {
		for j := range world.Systems[i].Planets {
			planet := &world.Systems[i].Planets[j]
			if planet.OwnerID == "" {
				return &game.ColonizePlanet{PlayerID: player.ID, PlanetID: planet.ID}
			}
		}
	}
	return nil
}

func (s *weightedStrategy) diplomacyCandidate(player *game.Player, world *game.World) game.Event {
	for _, other := range world.Players {
		if other.ID == player.ID {
			continue
		}
		if player.Relations[other.ID] == "" {
			return &game.Diplomacy{PlayerID: player.ID, TargetPlayerID: other.ID, Stance: "neutral"}
		}
	}
	return nil
}

func (s *weightedStrategy) transferCandidate(player *game.Player, world *game.World) game.Event {
	for _, other := range world.Players {
		if other.ID != player.ID && player.Relations[other.ID] == "ally" {
			return &game.TransferResources{
				PlayerID:   player.ID,
				ToPlayerID: other.ID,
				Amount:     game.Resources{Credits: 50},
			}
		}
	}
	return nil
}

// fallibleStrategy drops generated commands with the configured probability,
// modelling the mistakes lower difficulties are allowed to make.
type fallibleStrategy struct {
	inner       Strategy
	mistakeProb float64
	random      func() float64
}

// Name identifies the wrapped strategy preset.
func (s *fallibleStrategy) Name() string { return s.inner.Name() }

// GenerateCommands delegates to the wrapped strategy, then forgets commands
// at the mistake rate.
func (s *fallibleStrategy) GenerateCommands(playerID string, world *game.World) ([]game.Event, error) {
	events, err := s.inner.GenerateCommands(playerID, world)
	if err != nil || len(events) == 0 {
		return events, err
	}
	kept := events[:0]
	for _, event := range events {
		if s.random() < s.mistakeProb {
			continue
		}
		kept = append(kept, event)
	}
	return kept, nil
}

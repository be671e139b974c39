package game

import (
	"errors"
	"fmt"
)

// Event kinds forming the closed set of world transitions.
const (
	KindMoveFleet         = "move_fleet"
	KindBuildStructure    = "build_structure"
	KindAttack            = "attack"
	KindDiplomacy         = "diplomacy"
	KindTransferResources = "transfer_resources"
	KindColonizePlanet    = "colonize_planet"
)

var (
	// ErrUnknownPlayer indicates the acting or target player is not part of the world.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrUnknownPlanet indicates a referenced planet does not exist.
	ErrUnknownPlanet = errors.New("unknown planet")
	// ErrUnknownFleet indicates a referenced fleet does not exist.
	ErrUnknownFleet = errors.New("unknown fleet")
	// ErrInsufficientResources indicates the acting player cannot pay the cost.
	ErrInsufficientResources = errors.New("insufficient resources")
)

// Event is an immutable fact describing a state transition. Applying events is
// the only legitimate way to mutate a World.
type Event interface {
	// Kind returns the discriminator used by the wire and storage codecs.
	Kind() string
	// Actor returns the id of the player the event acts on behalf of.
	Actor() string
	// Apply mutates the world in place according to the variant's rule.
	Apply(w *World) error
}

// MoveFleet relocates a fleet from one planet to another, burning fuel.
type MoveFleet struct {
	PlayerID     string `json:"player_id"`
	FleetID      string `json:"fleet_id"`
	FromPlanetID string `json:"from_planet_id"`
	ToPlanetID   string `json:"to_planet_id"`
}

// Kind identifies the event variant.
func (e *MoveFleet) Kind() string { return KindMoveFleet }

// Actor names the acting player.
func (e *MoveFleet) Actor() string { return e.PlayerID }

// Apply detaches the fleet from its origin planet and docks it at the target.
func (e *MoveFleet) Apply(w *World) error {
	player, ok := w.FindPlayer(e.PlayerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.PlayerID)
	}
	origin, fleet, ok := w.FindFleet(e.FleetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, e.FleetID)
	}
	target, ok := w.FindPlanet(e.ToPlanetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlanet, e.ToPlanetID)
	}
	cost := int64(fleet.Ships)
	if player.Resources.Fuel < cost {
		return fmt.Errorf("%w: fleet %s needs %d fuel", ErrInsufficientResources, e.FleetID, cost)
	}
	player.Resources.Fuel -= cost

	moved := *fleet
	moved.Destination = ""
	kept := origin.Fleets[:0]
	for _, f := range origin.Fleets {
		if f.ID != e.FleetID {
			kept = append(kept, f)
		}
	}
	origin.Fleets = kept
	target.Fleets = append(target.Fleets, moved)
	return nil
}

// BuildStructure erects a new structure on a planet at a fixed resource cost.
type BuildStructure struct {
	PlayerID    string `json:"player_id"`
	PlanetID    string `json:"planet_id"`
	StructureID string `json:"structure_id"`
	Type        string `json:"type"`
}

// Kind identifies the event variant.
func (e *BuildStructure) Kind() string { return KindBuildStructure }

// Actor names the acting player.
func (e *BuildStructure) Actor() string { return e.PlayerID }

// Structure build cost applied uniformly per structure.
const (
	structureCreditCost   int64 = 100
	structureMaterialCost int64 = 50
)

// Apply charges the builder and appends the structure to the planet.
func (e *BuildStructure) Apply(w *World) error {
	player, ok := w.FindPlayer(e.PlayerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.PlayerID)
	}
	planet, ok := w.FindPlanet(e.PlanetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlanet, e.PlanetID)
	}
	if player.Resources.Credits < structureCreditCost || player.Resources.Materials < structureMaterialCost {
		return fmt.Errorf("%w: structure %s", ErrInsufficientResources, e.Type)
	}
	player.Resources.Credits -= structureCreditCost
	player.Resources.Materials -= structureMaterialCost
	planet.Structures = append(planet.Structures, Structure{
		ID:       e.StructureID,
		OwnerID:  e.PlayerID,
		PlanetID: e.PlanetID,
		Type:     e.Type,
		Level:    1,
	})
	return nil
}

// Attack resolves a raid by one fleet against another stationed at a planet.
type Attack struct {
	PlayerID      string `json:"player_id"`
	FleetID       string `json:"fleet_id"`
	TargetFleetID string `json:"target_fleet_id"`
}

// Kind identifies the event variant.
func (e *Attack) Kind() string { return KindAttack }

// Actor names the acting player.
func (e *Attack) Actor() string { return e.PlayerID }

// Apply reduces both fleets by the smaller fleet's strength, removing any
// fleet ground down to zero ships. Combat math beyond attrition lives outside
// this core.
func (e *Attack) Apply(w *World) error {
	if _, ok := w.FindPlayer(e.PlayerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.PlayerID)
	}
	_, attacker, ok := w.FindFleet(e.FleetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, e.FleetID)
	}
	targetPlanet, target, ok := w.FindFleet(e.TargetFleetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFleet, e.TargetFleetID)
	}
	losses := attacker.Ships
	if target.Ships < losses {
		losses = target.Ships
	}
	attacker.Ships -= losses / 2
	target.Ships -= losses
	if target.Ships <= 0 {
		kept := targetPlanet.Fleets[:0]
		for _, f := range targetPlanet.Fleets {
			if f.ID != e.TargetFleetID {
				kept = append(kept, f)
			}
		}
		targetPlanet.Fleets = kept
	}
	return nil
}

// Diplomacy records a standing proposal between two players.
type Diplomacy struct {
	PlayerID       string `json:"player_id"`
	TargetPlayerID string `json:"target_player_id"`
	Stance         string `json:"stance"`
}

// Kind identifies the event variant.
func (e *Diplomacy) Kind() string { return KindDiplomacy }

// Actor names the acting player.
func (e *Diplomacy) Actor() string { return e.PlayerID }

// Apply stores the declared stance on the acting player's relations map.
func (e *Diplomacy) Apply(w *World) error {
	player, ok := w.FindPlayer(e.PlayerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.PlayerID)
	}
	if _, ok := w.FindPlayer(e.TargetPlayerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.TargetPlayerID)
	}
	if player.Relations == nil {
		player.Relations = make(map[string]string, 1)
	}
	player.Relations[e.TargetPlayerID] = e.Stance
	return nil
}

// TransferResources moves resources between two players' treasuries.
type TransferResources struct {
	PlayerID   string    `json:"player_id"`
	ToPlayerID string    `json:"to_player_id"`
	Amount     Resources `json:"amount"`
}

// Kind identifies the event variant.
func (e *TransferResources) Kind() string { return KindTransferResources }

// Actor names the acting player.
func (e *TransferResources) Actor() string { return e.PlayerID }

// Apply debits the sender and credits the receiver atomically.
func (e *TransferResources) Apply(w *World) error {
	sender, ok := w.FindPlayer(e.PlayerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.PlayerID)
	}
	receiver, ok := w.FindPlayer(e.ToPlayerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.ToPlayerID)
	}
	if e.Amount.Credits < 0 || e.Amount.Materials < 0 || e.Amount.Fuel < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInsufficientResources)
	}
	if sender.Resources.Credits < e.Amount.Credits ||
		sender.Resources.Materials < e.Amount.Materials ||
		sender.Resources.Fuel < e.Amount.Fuel {
		return fmt.Errorf("%w: transfer to %s", ErrInsufficientResources, e.ToPlayerID)
	}
	sender.Resources.Credits -= e.Amount.Credits
	sender.Resources.Materials -= e.Amount.Materials
	sender.Resources.Fuel -= e.Amount.Fuel
	receiver.Resources.Credits += e.Amount.Credits
	receiver.Resources.Materials += e.Amount.Materials
	receiver.Resources.Fuel += e.Amount.Fuel
	return nil
}

// ColonizePlanet claims an unowned planet for the acting player.
type ColonizePlanet struct {
	PlayerID string `json:"player_id"`
	PlanetID string `json:"planet_id"`
}

// Kind identifies the event variant.
func (e *ColonizePlanet) Kind() string { return KindColonizePlanet }

// Actor names the acting player.
func (e *ColonizePlanet) Actor() string { return e.PlayerID }

// Colonization cost charged in credits.
const colonizeCreditCost int64 = 200

// Apply marks the planet as owned by the acting player.
func (e *ColonizePlanet) Apply(w *World) error {
	player, ok := w.FindPlayer(e.PlayerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, e.PlayerID)
	}
	planet, ok := w.FindPlanet(e.PlanetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlanet, e.PlanetID)
	}
	if planet.OwnerID != "" && planet.OwnerID != e.PlayerID {
		return fmt.Errorf("planet %s already claimed by %s", e.PlanetID, planet.OwnerID)
	}
	if player.Resources.Credits < colonizeCreditCost {
		return fmt.Errorf("%w: colonize %s", ErrInsufficientResources, e.PlanetID)
	}
	player.Resources.Credits -= colonizeCreditCost
	planet.OwnerID = e.PlayerID
	return nil
}

// Package delta computes the minimal add/change/delete update set between two
// successive world snapshots.
package delta

import (
	"maps"

	"galaxion/sync/internal/game"
)

// UpdateType classifies one client-visible change.
type UpdateType string

const (
	// Added marks an entity present in the new world only.
	Added UpdateType = "added"
	// Changed marks an entity whose own fields differ between worlds.
	Changed UpdateType = "changed"
	// Deleted marks an entity present in the old world only.
	Deleted UpdateType = "deleted"
)

// Entity kinds attached to updates so clients can route them.
const (
	EntitySystem    = "system"
	EntityPlanet    = "planet"
	EntityFleet     = "fleet"
	EntityStructure = "structure"
	EntityPlayer    = "player"
)

// Update is one unit of client-visible change. Data carries a copy of the
// entity for added and changed updates and is nil for deletions.
type Update struct {
	ID     string     `json:"id"`
	Type   UpdateType `json:"type"`
	Entity string     `json:"entity"`
	Data   any        `json:"data,omitempty"`
}

// Compute produces the ordered update list transforming old into new. The
// traversal is deterministic: systems in new-world order, then each matched
// system's planets, then each matched planet's fleets and structures, with
// deletions at a level emitted before moving past it. Comparison at every
// level covers only the entity's own fields, so a changed structure does not
// mark its planet changed. Diffing a world against itself yields nil.
func Compute(oldWorld, newWorld *game.World) []Update {
	var updates []Update

	updates = append(updates, diffSystems(oldWorld, newWorld)...)
	updates = append(updates, diffPlayers(oldWorld, newWorld)...)
	return updates
}

func diffSystems(oldWorld, newWorld *game.World) []Update {
	oldSystems := make(map[string]*game.StarSystem)
	if oldWorld != nil {
		for i := range oldWorld.Systems {
			oldSystems[oldWorld.Systems[i].ID] = &oldWorld.Systems[i]
		}
	}

	var updates []Update
	seen := make(map[string]bool)
	if newWorld != nil {
		for i := range newWorld.Systems {
			system := &newWorld.Systems[i]
			seen[system.ID] = true
			before, ok := oldSystems[system.ID]
			if !ok {
				//1.- A brand new system carries its whole subtree in one update.
				updates = append(updates, Update{ID: system.ID, Type: Added, Entity: EntitySystem, Data: system.Clone()})
				continue
			}
			if !sameSystem(before, system) {
				updates = append(updates, Update{ID: system.ID, Type: Changed, Entity: EntitySystem, Data: shallowSystem(system)})
			}
			updates = append(updates, diffPlanets(before, system)...)
		}
	}
	if oldWorld != nil {
		for i := range oldWorld.Systems {
			if !seen[oldWorld.Systems[i].ID] {
				updates = append(updates, Update{ID: oldWorld.Systems[i].ID, Type: Deleted, Entity: EntitySystem})
			}
		}
	}
	return updates
}

func diffPlanets(oldSystem, newSystem *game.StarSystem) []Update {
	oldPlanets := make(map[string]*game.Planet)
	for i := range oldSystem.Planets {
		oldPlanets[oldSystem.Planets[i].ID] = &oldSystem.Planets[i]
	}

	var updates []Update
	seen := make(map[string]bool)
	for i := range newSystem.Planets {
		planet := &newSystem.Planets[i]
		seen[planet.ID] = true
		before, ok := oldPlanets[planet.ID]
		if !ok {
			updates = append(updates, Update{ID: planet.ID, Type: Added, Entity: EntityPlanet, Data: planet.Clone()})
			continue
		}
		if !samePlanet(before, planet) {
			updates = append(updates, Update{ID: planet.ID, Type: Changed, Entity: EntityPlanet, Data: shallowPlanet(planet)})
		}
		updates = append(updates, diffFleets(before, planet)...)
		updates = append(updates, diffStructures(before, planet)...)
	}
	for i := range oldSystem.Planets {
		if !seen[oldSystem.Planets[i].ID] {
			updates = append(updates, Update{ID: oldSystem.Planets[i].ID, Type: Deleted, Entity: EntityPlanet})
		}
	}
	return updates
}

func diffFleets(oldPlanet, newPlanet *game.Planet) []Update {
	oldFleets := make(map[string]game.Fleet)
	for _, fleet := range oldPlanet.Fleets {
		oldFleets[fleet.ID] = fleet
	}

	var updates []Update
	seen := make(map[string]bool)
	for _, fleet := range newPlanet.Fleets {
		seen[fleet.ID] = true
		before, ok := oldFleets[fleet.ID]
		if !ok {
			updates = append(updates, Update{ID: fleet.ID, Type: Added, Entity: EntityFleet, Data: fleet})
			continue
		}
		if before != fleet {
			updates = append(updates, Update{ID: fleet.ID, Type: Changed, Entity: EntityFleet, Data: fleet})
		}
	}
	for _, fleet := range oldPlanet.Fleets {
		if !seen[fleet.ID] {
			updates = append(updates, Update{ID: fleet.ID, Type: Deleted, Entity: EntityFleet})
		}
	}
	return updates
}

func diffStructures(oldPlanet, newPlanet *game.Planet) []Update {
	oldStructures := make(map[string]game.Structure)
	for _, structure := range oldPlanet.Structures {
		oldStructures[structure.ID] = structure
	}

	var updates []Update
	seen := make(map[string]bool)
	for _, structure := range newPlanet.Structures {
		seen[structure.ID] = true
		before, ok := oldStructures[structure.ID]
		if !ok {
			updates = append(updates, Update{ID: structure.ID, Type: Added, Entity: EntityStructure, Data: structure})
			continue
		}
		if before != structure {
			updates = append(updates, Update{ID: structure.ID, Type: Changed, Entity: EntityStructure, Data: structure})
		}
	}
	for _, structure := range oldPlanet.Structures {
		if !seen[structure.ID] {
			updates = append(updates, Update{ID: structure.ID, Type: Deleted, Entity: EntityStructure})
		}
	}
	return updates
}

func diffPlayers(oldWorld, newWorld *game.World) []Update {
	oldPlayers := make(map[string]game.Player)
	if oldWorld != nil {
		for _, player := range oldWorld.Players {
			oldPlayers[player.ID] = player
		}
	}

	var updates []Update
	seen := make(map[string]bool)
	if newWorld != nil {
		for _, player := range newWorld.Players {
			seen[player.ID] = true
			before, ok := oldPlayers[player.ID]
			if !ok {
				updates = append(updates, Update{ID: player.ID, Type: Added, Entity: EntityPlayer, Data: player})
				continue
			}
			if !samePlayer(before, player) {
				updates = append(updates, Update{ID: player.ID, Type: Changed, Entity: EntityPlayer, Data: player})
			}
		}
	}
	if oldWorld != nil {
		for _, player := range oldWorld.Players {
			if !seen[player.ID] {
				updates = append(updates, Update{ID: player.ID, Type: Deleted, Entity: EntityPlayer})
			}
		}
	}
	return updates
}

// sameSystem compares the system's own fields, excluding its planets.
func sameSystem(a, b *game.StarSystem) bool {
	return a.ID == b.ID && a.Name == b.Name && a.X == b.X && a.Y == b.Y
}

// samePlanet compares the planet's own fields, excluding fleets and structures.
func samePlanet(a, b *game.Planet) bool {
	return a.ID == b.ID && a.Name == b.Name && a.OwnerID == b.OwnerID && a.Richness == b.Richness
}

func samePlayer(a, b game.Player) bool {
	return a.ID == b.ID && a.Name == b.Name && a.AI == b.AI &&
		a.Resources == b.Resources && maps.Equal(a.Relations, b.Relations)
}

// shallowSystem copies the system without its planets for changed updates.
func shallowSystem(s *game.StarSystem) game.StarSystem {
	dup := *s
	dup.Planets = nil
	return dup
}

// shallowPlanet copies the planet without its children for changed updates.
func shallowPlanet(p *game.Planet) game.Planet {
	dup := *p
	dup.Fleets = nil
	dup.Structures = nil
	return dup
}

// Package game defines the authoritative world model for one session together
// with the closed set of events that may mutate it.
package game

// Resources tracks the per-player derived economy state.
type Resources struct {
	Credits   int64 `json:"credits"`
	Materials int64 `json:"materials"`
	Fuel      int64 `json:"fuel"`
}

// Player describes a participant in a session, human or AI controlled.
type Player struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	AI        bool              `json:"ai"`
	Resources Resources         `json:"resources"`
	Relations map[string]string `json:"relations,omitempty"`
}

// Fleet is a mobile group of ships stationed at a planet.
type Fleet struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Ships       int    `json:"ships"`
	Destination string `json:"destination,omitempty"`
}

// Structure is a fixed installation on a planet.
type Structure struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	PlanetID string `json:"planet_id"`
	Type     string `json:"type"`
	Level    int    `json:"level"`
}

// Planet holds the fleets and structures orbiting or built on it.
type Planet struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	OwnerID    string      `json:"owner_id,omitempty"`
	Richness   int         `json:"richness"`
	Fleets     []Fleet     `json:"fleets,omitempty"`
	Structures []Structure `json:"structures,omitempty"`
}

// StarSystem groups planets at a fixed galactic coordinate.
type StarSystem struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	X       int      `json:"x"`
	Y       int      `json:"y"`
	Planets []Planet `json:"planets,omitempty"`
}

// World is the authoritative mutable game state for one session. Exactly one
// live World exists per active session and it is owned by its aggregate.
type World struct {
	SessionID string       `json:"session_id"`
	Name      string       `json:"name"`
	Systems   []StarSystem `json:"systems,omitempty"`
	Players   []Player     `json:"players,omitempty"`
}

// Clone produces a deep structural copy sharing no mutable state with the
// receiver, so baselines survive later mutation of the live World.
func (w *World) Clone() *World {
	if w == nil {
		return nil
	}
	clone := &World{SessionID: w.SessionID, Name: w.Name}
	if len(w.Systems) > 0 {
		clone.Systems = make([]StarSystem, len(w.Systems))
		for i, system := range w.Systems {
			clone.Systems[i] = system.Clone()
		}
	}
	if len(w.Players) > 0 {
		clone.Players = make([]Player, len(w.Players))
		for i, player := range w.Players {
			clone.Players[i] = player.Clone()
		}
	}
	return clone
}

// Clone deep copies the system and its planets.
func (s StarSystem) Clone() StarSystem {
	dup := s
	dup.Planets = nil
	if len(s.Planets) > 0 {
		dup.Planets = make([]Planet, len(s.Planets))
		for i, planet := range s.Planets {
			dup.Planets[i] = planet.Clone()
		}
	}
	return dup
}

// Clone deep copies the planet and its fleets and structures.
func (p Planet) Clone() Planet {
	dup := p
	dup.Fleets = append([]Fleet(nil), p.Fleets...)
	dup.Structures = append([]Structure(nil), p.Structures...)
	return dup
}

// Clone deep copies the player including the relations map.
func (p Player) Clone() Player {
	dup := p
	dup.Relations = nil
	if len(p.Relations) > 0 {
		dup.Relations = make(map[string]string, len(p.Relations))
		for k, v := range p.Relations {
			dup.Relations[k] = v
		}
	}
	return dup
}

// FindPlayer locates a player by id.
func (w *World) FindPlayer(id string) (*Player, bool) {
	if w == nil {
		return nil, false
	}
	for i := range w.Players {
		if w.Players[i].ID == id {
			return &w.Players[i], true
		}
	}
	return nil, false
}

// FindPlanet locates a planet by id anywhere in the galaxy.
func (w *World) FindPlanet(id string) (*Planet, bool) {
	if w == nil {
		return nil, false
	}
	for i := range w.Systems {
		for j := range w.Systems[i].Planets {
			if w.Systems[i].Planets[j].ID == id {
				return &w.Systems[i].Planets[j], true
			}
		}
	}
	return nil, false
}

// FindFleet locates a fleet and its hosting planet.
func (w *World) FindFleet(id string) (*Planet, *Fleet, bool) {
	if w == nil {
		return nil, nil, false
	}
	for i := range w.Systems {
		for j := range w.Systems[i].Planets {
			planet := &w.Systems[i].Planets[j]
			for k := range planet.Fleets {
				if planet.Fleets[k].ID == id {
					return planet, &planet.Fleets[k], true
				}
			}
		}
	}
	return nil, nil, false
}

// PlanetsOwnedBy returns the ids of planets controlled by the player, in
// galaxy traversal order.
func (w *World) PlanetsOwnedBy(playerID string) []string {
	if w == nil {
		return nil
	}
	var ids []string
	for i := range w.Systems {
		for j := range w.Systems[i].Planets {
			if w.Systems[i].Planets[j].OwnerID == playerID {
				ids = append(ids, w.Systems[i].Planets[j].ID)
			}
		}
	}
	return ids
}

// FleetsOwnedBy returns the ids of fleets controlled by the player, in galaxy
// traversal order.
func (w *World) FleetsOwnedBy(playerID string) []string {
	if w == nil {
		return nil
	}
	var ids []string
	for i := range w.Systems {
		for j := range w.Systems[i].Planets {
			for _, fleet := range w.Systems[i].Planets[j].Fleets {
				if fleet.OwnerID == playerID {
					ids = append(ids, fleet.ID)
				}
			}
		}
	}
	return ids
}

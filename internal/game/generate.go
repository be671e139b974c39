package game

import (
	"fmt"
	"hash/fnv"
)

// Starting treasury granted to every player in a generated world.
var startingResources = Resources{Credits: 500, Materials: 300, Fuel: 200}

// NewWorld builds the default starting galaxy for a session: a small grid of
// systems with a home planet and escort fleet per player. Generation is a pure
// function of the session id and player list so recreated sessions match.
func NewWorld(sessionID string, players []Player) *World {
	world := &World{
		SessionID: sessionID,
		Name:      fmt.Sprintf("galaxy-%s", sessionID),
	}

	systems := 2
	if len(players) > 4 {
		systems = (len(players) + 1) / 2
	}
	for i := 0; i < systems; i++ {
		system := StarSystem{
			ID:   fmt.Sprintf("%s-sys-%d", sessionID, i+1),
			Name: fmt.Sprintf("System %d", i+1),
			X:    i * 10,
			Y:    int(seedFor(sessionID, i) % 20),
		}
		for j := 0; j < 2; j++ {
			system.Planets = append(system.Planets, Planet{
				ID:       fmt.Sprintf("%s-planet-%d-%d", sessionID, i+1, j+1),
				Name:     fmt.Sprintf("Planet %d-%d", i+1, j+1),
				Richness: int(seedFor(sessionID, i*7+j)%5) + 1,
			})
		}
		world.Systems = append(world.Systems, system)
	}

	for idx, player := range players {
		p := player.Clone()
		if p.Resources == (Resources{}) {
			p.Resources = startingResources
		}
		world.Players = append(world.Players, p)

		home := &world.Systems[idx%len(world.Systems)].Planets[0]
		if home.OwnerID == "" {
			home.OwnerID = p.ID
		}
		home.Fleets = append(home.Fleets, Fleet{
			ID:      fmt.Sprintf("%s-fleet-%s", sessionID, p.ID),
			OwnerID: p.ID,
			Ships:   10,
		})
	}
	return world
}

func seedFor(sessionID string, salt int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sessionID))
	_, _ = h.Write([]byte{byte(salt), byte(salt >> 8)})
	return h.Sum64()
}

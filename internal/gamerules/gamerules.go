// Package gamerules defines the opaque game-rules boundary spec §4.9 names
// only by interface (the match controller "does not parse player commands
// itself — it passes opaque payloads to the game rules"), plus a minimal
// reference implementation exercising the validation shape the spec
// describes narratively: origin exists, destination exists, origin owned by
// the submitting player, ship count does not exceed what's available.
//
// The reference board is deliberately tiny — a full Planet Wars simulation
// is out of this runtime's scope (spec §1's Non-goals place the game itself
// outside the message-routing runtime under test). It exists so
// internal/match has something real to drive and test against.
package gamerules

import (
	"encoding/json"
	"sort"

	"planetwars/broker/internal/ids"
)

// Stepper is the opaque game-rules object the match controller drives. One
// Step call corresponds to one step-lock turn: responses holds each
// expected client's raw payload for the turn just collected (nil for a
// client that didn't submit in time, per steplock.ExpireStragglers).
type Stepper interface {
	// Step advances the game by one turn and returns the per-client prompt
	// payloads for the turn that follows, plus a winner set once the game
	// has concluded (done=true; Winners may be empty for a draw).
	Step(responses map[ids.ID][]byte) Result
}

// Result is what a single Step call produces.
type Result struct {
	Prompts map[ids.ID][]byte
	Winners []ids.ID
	Done    bool
}

// Command is the reference rules' move payload shape, modeled directly on
// the original Planet Wars protocol's Command/Action structs (origin,
// destination, ship_count), encoded as JSON per client turn.
type Command struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	ShipCount   int    `json:"ship_count"`
}

// Planet is a single board location. Owner is ids.Zero for a neutral planet.
type Planet struct {
	Name      string  `json:"name"`
	ShipCount int     `json:"ship_count"`
	Owner     ids.ID  `json:"owner"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Expedition is ships in flight between two planets, owned by whoever sent
// them. ETA counts down to zero, at which point it resolves against the
// destination planet.
type Expedition struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	ShipCount   int    `json:"ship_count"`
	Owner       ids.ID `json:"owner"`
	ETA         int    `json:"eta"`
}

// expeditionTurns is fixed rather than distance-computed, matching the
// "deliberately tiny" scope this package is built to: ETA is already
// decremented once in the Step that launches an expedition, so every launch
// resolves on the following Step regardless of the board's (x, y) layout.
const expeditionTurns = 2

// PlanetWars is the reference Stepper implementation.
type PlanetWars struct {
	planets     map[string]*Planet
	expeditions []Expedition
	players     []ids.ID
	turn        int
	maxTurns    int
}

// NewPlanetWars constructs a game over planets (copied by value) among
// players. maxTurns bounds the game length as a fallback termination
// condition when no single player ever achieves full ownership.
func NewPlanetWars(planets []Planet, players []ids.ID, maxTurns int) *PlanetWars {
	board := make(map[string]*Planet, len(planets))
	for i := range planets {
		p := planets[i]
		board[p.Name] = &p
	}
	playersCopy := append([]ids.ID(nil), players...)
	sort.Slice(playersCopy, func(i, j int) bool { return playersCopy[i].String() < playersCopy[j].String() })
	return &PlanetWars{planets: board, players: playersCopy, maxTurns: maxTurns}
}

// Step implements Stepper.
func (g *PlanetWars) Step(responses map[ids.ID][]byte) Result {
	g.turn++

	for player, payload := range responses {
		g.applyCommands(player, payload)
	}

	g.advanceExpeditions()

	if winners, done := g.checkVictory(); done {
		return Result{Winners: winners, Done: true}
	}

	return Result{Prompts: g.prompts(), Done: false}
}

func (g *PlanetWars) applyCommands(player ids.ID, payload []byte) {
	if len(payload) == 0 {
		return
	}
	var commands []Command
	if err := json.Unmarshal(payload, &commands); err != nil {
		// Malformed payloads are silently discarded, per spec §4.9: the game
		// rules validate and silently discard invalid moves.
		return
	}
	for _, cmd := range commands {
		if !g.validCommand(player, cmd) {
			continue
		}
		origin := g.planets[cmd.Origin]
		origin.ShipCount -= cmd.ShipCount
		g.expeditions = append(g.expeditions, Expedition{
			Origin:      cmd.Origin,
			Destination: cmd.Destination,
			ShipCount:   cmd.ShipCount,
			Owner:       player,
			ETA:         expeditionTurns,
		})
	}
}

func (g *PlanetWars) validCommand(player ids.ID, cmd Command) bool {
	if cmd.ShipCount <= 0 {
		return false
	}
	origin, ok := g.planets[cmd.Origin]
	if !ok {
		return false
	}
	if _, ok := g.planets[cmd.Destination]; !ok {
		return false
	}
	if origin.Owner != player {
		return false
	}
	if cmd.ShipCount > origin.ShipCount {
		return false
	}
	return true
}

func (g *PlanetWars) advanceExpeditions() {
	remaining := g.expeditions[:0]
	for _, exp := range g.expeditions {
		exp.ETA--
		if exp.ETA > 0 {
			remaining = append(remaining, exp)
			continue
		}
		g.resolveArrival(exp)
	}
	g.expeditions = remaining
}

func (g *PlanetWars) resolveArrival(exp Expedition) {
	planet, ok := g.planets[exp.Destination]
	if !ok {
		return
	}
	if planet.Owner == exp.Owner {
		planet.ShipCount += exp.ShipCount
		return
	}
	if exp.ShipCount > planet.ShipCount {
		planet.Owner = exp.Owner
		planet.ShipCount = exp.ShipCount - planet.ShipCount
	} else {
		planet.ShipCount -= exp.ShipCount
	}
}

func (g *PlanetWars) checkVictory() (winners []ids.ID, done bool) {
	owners := make(map[ids.ID]int)
	for _, p := range g.planets {
		owners[p.Owner]++
	}
	delete(owners, ids.Zero)

	if len(owners) == 1 {
		for owner := range owners {
			return []ids.ID{owner}, true
		}
	}
	if len(owners) == 0 && g.turn > 0 {
		// Every planet is neutral or destroyed: a draw.
		return nil, true
	}
	if g.maxTurns > 0 && g.turn >= g.maxTurns {
		return g.leaders(owners), true
	}
	return nil, false
}

func (g *PlanetWars) leaders(owners map[ids.ID]int) []ids.ID {
	best := -1
	var leaders []ids.ID
	for owner, count := range owners {
		switch {
		case count > best:
			best = count
			leaders = []ids.ID{owner}
		case count == best:
			leaders = append(leaders, owner)
		}
	}
	sort.Slice(leaders, func(i, j int) bool { return leaders[i].String() < leaders[j].String() })
	return leaders
}

func (g *PlanetWars) prompts() map[ids.ID][]byte {
	state := struct {
		Planets     []Planet     `json:"planets"`
		Expeditions []Expedition `json:"expeditions"`
	}{}
	for _, p := range g.planets {
		state.Planets = append(state.Planets, *p)
	}
	sort.Slice(state.Planets, func(i, j int) bool { return state.Planets[i].Name < state.Planets[j].Name })
	state.Expeditions = append(state.Expeditions, g.expeditions...)

	encoded, err := json.Marshal(state)
	if err != nil {
		encoded = []byte(`{}`)
	}
	out := make(map[ids.ID][]byte, len(g.players))
	for _, player := range g.players {
		out[player] = encoded
	}
	return out
}

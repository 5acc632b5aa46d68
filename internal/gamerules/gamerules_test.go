package gamerules

import (
	"encoding/json"
	"testing"

	"planetwars/broker/internal/ids"
)

func twoPlayerBoard(t *testing.T, p1, p2 ids.ID) *PlanetWars {
	t.Helper()
	planets := []Planet{
		{Name: "home1", ShipCount: 50, Owner: p1},
		{Name: "home2", ShipCount: 50, Owner: p2},
		{Name: "mid", ShipCount: 5, Owner: ids.Zero},
	}
	return NewPlanetWars(planets, []ids.ID{p1, p2}, 0)
}

func commandsJSON(t *testing.T, cmds []Command) []byte {
	t.Helper()
	data, err := json.Marshal(cmds)
	if err != nil {
		t.Fatalf("marshal commands: %v", err)
	}
	return data
}

func TestInvalidOriginIsDiscarded(t *testing.T) {
	p1, p2 := ids.New(), ids.New()
	g := twoPlayerBoard(t, p1, p2)

	payload := commandsJSON(t, []Command{{Origin: "nonexistent", Destination: "mid", ShipCount: 5}})
	result := g.Step(map[ids.ID][]byte{p1: payload, p2: nil})
	if result.Done {
		t.Fatalf("game should not end from a single discarded move")
	}
	// Confirm home1's ship count is untouched: re-derive from the next prompt.
	var state struct {
		Planets []Planet `json:"planets"`
	}
	if err := json.Unmarshal(result.Prompts[p1], &state); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}
	for _, p := range state.Planets {
		if p.Name == "home1" && p.ShipCount != 50 {
			t.Fatalf("home1 ship count = %d, want unchanged 50", p.ShipCount)
		}
	}
}

func TestCommandFromNonOwnerIsDiscarded(t *testing.T) {
	p1, p2 := ids.New(), ids.New()
	g := twoPlayerBoard(t, p1, p2)

	payload := commandsJSON(t, []Command{{Origin: "home2", Destination: "mid", ShipCount: 5}})
	g.Step(map[ids.ID][]byte{p1: payload})

	var state struct {
		Planets []Planet `json:"planets"`
	}
	result := g.Step(nil)
	if err := json.Unmarshal(result.Prompts[p1], &state); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}
	for _, p := range state.Planets {
		if p.Name == "home2" && p.ShipCount != 50 {
			t.Fatalf("home2 ship count = %d, want unchanged 50 (p1 doesn't own it)", p.ShipCount)
		}
	}
}

func TestShipCountExceedingAvailableIsDiscarded(t *testing.T) {
	p1, p2 := ids.New(), ids.New()
	g := twoPlayerBoard(t, p1, p2)

	payload := commandsJSON(t, []Command{{Origin: "home1", Destination: "mid", ShipCount: 1000}})
	result := g.Step(map[ids.ID][]byte{p1: payload})

	var state struct {
		Planets []Planet `json:"planets"`
	}
	if err := json.Unmarshal(result.Prompts[p1], &state); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}
	for _, p := range state.Planets {
		if p.Name == "home1" && p.ShipCount != 50 {
			t.Fatalf("home1 ship count = %d, want unchanged 50", p.ShipCount)
		}
	}
}

func TestValidExpeditionArrivesAndCapturesNeutralPlanet(t *testing.T) {
	p1, p2 := ids.New(), ids.New()
	g := twoPlayerBoard(t, p1, p2)

	payload := commandsJSON(t, []Command{{Origin: "home1", Destination: "mid", ShipCount: 10}})
	g.Step(map[ids.ID][]byte{p1: payload})
	// expeditionTurns = 2: ETA decrements once here (to 1, still in flight)...
	// ...and reaches zero on this next step, which resolves the arrival.
	result := g.Step(nil)

	var state struct {
		Planets []Planet `json:"planets"`
	}
	if err := json.Unmarshal(result.Prompts[p1], &state); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}
	found := false
	for _, p := range state.Planets {
		if p.Name == "mid" {
			found = true
			if p.Owner != p1 {
				t.Fatalf("mid owner = %v, want p1", p.Owner)
			}
			if p.ShipCount != 5 {
				t.Fatalf("mid ship count = %d, want 5 (10 attackers - 5 defenders)", p.ShipCount)
			}
		}
	}
	if !found {
		t.Fatalf("mid planet missing from state")
	}
}

func TestGameEndsWhenOnePlayerOwnsEverything(t *testing.T) {
	p1, p2 := ids.New(), ids.New()
	planets := []Planet{
		{Name: "home1", ShipCount: 50, Owner: p1},
		{Name: "home2", ShipCount: 1, Owner: p2},
	}
	g := NewPlanetWars(planets, []ids.ID{p1, p2}, 0)

	payload := commandsJSON(t, []Command{{Origin: "home1", Destination: "home2", ShipCount: 10}})
	g.Step(map[ids.ID][]byte{p1: payload})
	result := g.Step(nil)

	if !result.Done {
		t.Fatalf("expected the game to end once p1 owns every planet")
	}
	if len(result.Winners) != 1 || result.Winners[0] != p1 {
		t.Fatalf("winners = %v, want [p1]", result.Winners)
	}
}

func TestMalformedPayloadIsSilentlyDiscarded(t *testing.T) {
	p1, p2 := ids.New(), ids.New()
	g := twoPlayerBoard(t, p1, p2)

	result := g.Step(map[ids.ID][]byte{p1: []byte("not json")})
	if result.Done {
		t.Fatalf("malformed payload should not end the game")
	}
}

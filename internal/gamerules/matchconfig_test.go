package gamerules

import (
	"encoding/json"
	"testing"
)

func TestMatchConfigRoundTripsThroughJSON(t *testing.T) {
	cfg := MatchConfig{
		MapFile:   "maps/four_planets.json",
		PlayerMap: map[string]string{"player1": "bots/simple_bot"},
		MaxTurns:  500,
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got MatchConfig
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MapFile != cfg.MapFile || got.MaxTurns != cfg.MaxTurns || got.PlayerMap["player1"] != cfg.PlayerMap["player1"] {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cfg)
	}
}

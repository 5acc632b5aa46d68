package gamerules

// MatchConfig is the stable external shape an offline bot-driver process
// targets when it wants to describe a match to spawn, modeled directly on
// botdriver/src/planetwars/planet_wars.rs's PlanetWarsConf. This package
// names the shape only: parsing a config file and spawning bot subprocesses
// from it is the bot-process spawner, out of this runtime's scope.
type MatchConfig struct {
	MapFile   string            `json:"map_file"`
	PlayerMap map[string]string `json:"player_map"`
	MaxTurns  uint64            `json:"max_turns"`
}

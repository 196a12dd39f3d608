package world

// Defaults for the production world. The map is a fixed 20x20 grid of
// 1000-unit sectors; the bound never changes after startup.
const (
	DefaultWidth          = 20000.0
	DefaultHeight         = 20000.0
	DefaultSectorSize     = 1000.0
	DefaultSpawnX         = 400.0
	DefaultSpawnY         = 300.0
	DefaultInterestRadius = 2000.0
)

// Config captures the fixed world geometry shared by the grid, the session
// registry and the interest manager.
type Config struct {
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	SectorSize     float64 `json:"sectorSize"`
	SpawnX         float64 `json:"spawnX"`
	SpawnY         float64 `json:"spawnY"`
	InterestRadius float64 `json:"interestRadius"`
}

// Normalized returns a config with defaults applied to missing or
// nonsensical values.
func (cfg Config) Normalized() Config {
	normalized := cfg
	if normalized.Width <= 0 {
		normalized.Width = DefaultWidth
	}
	if normalized.Height <= 0 {
		normalized.Height = DefaultHeight
	}
	if normalized.SectorSize <= 0 || normalized.SectorSize > normalized.Width {
		normalized.SectorSize = DefaultSectorSize
	}
	if normalized.SpawnX < 0 || normalized.SpawnX > normalized.Width {
		normalized.SpawnX = DefaultSpawnX
	}
	if normalized.SpawnY < 0 || normalized.SpawnY > normalized.Height {
		normalized.SpawnY = DefaultSpawnY
	}
	if normalized.InterestRadius <= 0 {
		normalized.InterestRadius = DefaultInterestRadius
	}
	return normalized
}

// DefaultConfig returns the production world geometry.
func DefaultConfig() Config {
	return Config{}.Normalized()
}

package brain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"botsim-core/pkg/db"
)

// Preset is one bot profile from the YAML config.
type Preset struct {
	Name        string   `yaml:"name"`
	Pairs       []string `yaml:"pairs"`
	WinRate     float64  `yaml:"win_rate"`
	AvgR        float64  `yaml:"avg_r"`
	LeverageMin int      `yaml:"leverage_min"`
	LeverageMax int      `yaml:"leverage_max"`
	TpPct       float64  `yaml:"tp_pct"`
	SlPct       float64  `yaml:"sl_pct"`
}

type presetFile struct {
	Bots []Preset `yaml:"bots"`
}

// LoadPresets reads bot presets from a YAML file.
func LoadPresets(path string) ([]Preset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var f presetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	for i, p := range f.Bots {
		if p.Name == "" {
			return nil, fmt.Errorf("preset %d has no name", i)
		}
	}
	return f.Bots, nil
}

// SyncPresetsToDB upserts each preset so API consumers can list them. Missing
// config is not fatal; the engine runs with its built-in default profile.
func SyncPresetsToDB(ctx context.Context, database *db.Database, path string) error {
	presets, err := LoadPresets(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("brain: no preset file at %s, skipping sync", path)
			return nil
		}
		return err
	}
	for _, p := range presets {
		row := db.ProfileRow{
			Name:        p.Name,
			Pairs:       p.Pairs,
			WinRate:     p.WinRate,
			AvgR:        p.AvgR,
			LeverageMin: p.LeverageMin,
			LeverageMax: p.LeverageMax,
			TpPct:       p.TpPct,
			SlPct:       p.SlPct,
		}
		if err := database.UpsertBotProfile(ctx, row); err != nil {
			return fmt.Errorf("sync preset %s: %w", p.Name, err)
		}
	}
	log.Printf("✅ brain: synced %d bot presets from %s", len(presets), path)
	return nil
}

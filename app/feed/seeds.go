package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadSeeds reads every *.yml seed definition in seedsDir. A missing
// directory is fine (seeds are optional); a malformed file is a startup
// error.
func LoadSeeds(seedsDir string) ([]Seed, error) {
	if _, err := os.Stat(seedsDir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(seedsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}

	seeds := make([]Seed, 0, len(files))
	for _, file := range files {
		seed, err := parseSeed(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Seed loaded", "name", seed.Name, "url", seed.URL, "subscribers", len(seed.Subscribers))
		seeds = append(seeds, *seed)
	}

	return seeds, nil
}

func parseSeed(file string) (*Seed, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Derive seed name from filename (remove .yml extension)
	fileName := filepath.Base(file)
	seed.Name = fileName[:len(fileName)-4]

	if seed.URL == "" {
		return nil, fmt.Errorf("feed URL is required")
	}

	return &seed, nil
}

package world

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlWorldFile is the top-level YAML structure for world files.
type yamlWorldFile struct {
	World yamlWorld `yaml:"world"`
}

type yamlWorld struct {
	Rooms   []yamlRoom   `yaml:"rooms"`
	Players []yamlPlayer `yaml:"players"`
}

type yamlRoom struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Exits       []string `yaml:"exits"`
}

type yamlPlayer struct {
	Identity string `yaml:"identity"`
	Name     string `yaml:"name"`
	Room     string `yaml:"room"`
}

// LoadWorldFromFile reads and validates a YAML world file.
//
// Precondition: path must point to a valid YAML world file.
// Postcondition: Returns a validated World or a non-nil error.
func LoadWorldFromFile(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file %s: %w", path, err)
	}
	return LoadWorldFromBytes(data)
}

// LoadWorldFromBytes parses and validates a world from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the world schema.
// Postcondition: Returns a validated World or a non-nil error.
func LoadWorldFromBytes(data []byte) (*World, error) {
	var file yamlWorldFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing world YAML: %w", err)
	}

	w := convertYAMLWorld(file.World)
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("validating world: %w", err)
	}
	return w, nil
}

// convertYAMLWorld converts the parsed YAML structures into domain types.
func convertYAMLWorld(yw yamlWorld) *World {
	w := &World{
		Rooms:   make([]Room, 0, len(yw.Rooms)),
		Players: make([]Player, 0, len(yw.Players)),
	}
	for _, yr := range yw.Rooms {
		w.Rooms = append(w.Rooms, Room{
			Name:        yr.Name,
			Description: strings.TrimSpace(yr.Description),
			Exits:       yr.Exits,
		})
	}
	for _, yp := range yw.Players {
		name := yp.Name
		if name == "" {
			name = yp.Identity
		}
		w.Players = append(w.Players, Player{
			Identity: yp.Identity,
			Name:     name,
			Room:     yp.Room,
		})
	}
	return w
}

package profile

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version int           `toml:"version"`
	Session sessionSchema `toml:"session"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported session schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type sessionSchema struct {
	Server       string `toml:"server"`
	Organization string `toml:"organization"`
	Token        string `toml:"token"`
	Version      string `toml:"version,omitempty"`
	TaskID       string `toml:"task_id,omitempty"`
	SavedAt      string `toml:"saved_at,omitempty"`
}

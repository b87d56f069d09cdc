package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// CaptureProfile is a named set of capture settings.
type CaptureProfile struct {
	Camera   string         `toml:"camera,omitempty" json:"camera,omitempty"`
	Role     string         `toml:"role,omitempty" json:"role,omitempty"`
	Format   string         `toml:"format,omitempty" json:"format,omitempty"`
	Size     string         `toml:"size,omitempty" json:"size,omitempty"`
	Frames   int            `toml:"frames,omitempty" json:"frames,omitempty"`
	Controls map[string]any `toml:"controls,omitempty" json:"controls,omitempty"`
}

type profilesFile struct {
	Version  int                       `toml:"version"`
	Profiles map[string]CaptureProfile `toml:"profiles"`
}

// ProfileStore keeps capture profiles in a TOML file.
type ProfileStore struct {
	path string
	file profilesFile
}

// NewProfileStore creates an empty store backed by path.
func NewProfileStore(path string) *ProfileStore {
	if path == "" {
		path = "profiles.toml"
	}
	return &ProfileStore{
		path: path,
		file: profilesFile{Version: 1, Profiles: make(map[string]CaptureProfile)},
	}
}

// Load reads the profiles file. A missing file leaves the store empty.
func (s *ProfileStore) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read profiles: %w", err)
	}
	if err := toml.Unmarshal(data, &s.file); err != nil {
		return fmt.Errorf("failed to parse profiles: %w", err)
	}
	if s.file.Profiles == nil {
		s.file.Profiles = make(map[string]CaptureProfile)
	}
	if s.file.Version == 0 {
		s.file.Version = 1
	}
	return nil
}

// Save writes the profiles file, creating its directory.
func (s *ProfileStore) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	data, err := toml.Marshal(s.file)
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	return nil
}

// Get returns the profile called name.
func (s *ProfileStore) Get(name string) (CaptureProfile, bool) {
	p, ok := s.file.Profiles[name]
	return p, ok
}

// Put stores p under name and saves the file.
func (s *ProfileStore) Put(name string, p CaptureProfile) error {
	s.file.Profiles[name] = p
	return s.Save()
}

// Remove deletes the profile called name and saves the file.
func (s *ProfileStore) Remove(name string) error {
	delete(s.file.Profiles, name)
	return s.Save()
}

// Names returns the profile names in sorted order.
func (s *ProfileStore) Names() []string {
	return slices.Sorted(maps.Keys(s.file.Profiles))
}

package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrCharacterNotFound is returned when no YAML file exists for a character id.
var ErrCharacterNotFound = errors.New("character not found")

// Character is a persona the responder plays.
type Character struct {
	ID          string `yaml:"-" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Characters loads persona definitions from <dir>/<id>.yaml and caches them
// for the lifetime of the process.
type Characters struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Character
}

// NewCharacters returns a loader rooted at dir.
func NewCharacters(dir string) *Characters {
	return &Characters{
		dir:   dir,
		cache: make(map[string]*Character),
	}
}

// Dir returns the directory characters are read from.
func (c *Characters) Dir() string {
	return c.dir
}

// Load returns the character with the given id. A missing name falls back to
// the id.
func (c *Characters) Load(id string) (*Character, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("invalid character id %q", id)
	}

	c.mu.RLock()
	ch, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return ch, nil
	}

	path := filepath.Join(c.dir, id+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, path)
		}
		return nil, fmt.Errorf("read character %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse character %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("character config must be a YAML mapping: %s", path)
	}

	ch = &Character{ID: id}
	if err := yaml.Unmarshal(data, ch); err != nil {
		return nil, fmt.Errorf("decode character %s: %w", path, err)
	}
	if ch.Name == "" {
		ch.Name = id
	}

	c.mu.Lock()
	c.cache[id] = ch
	c.mu.Unlock()
	return ch, nil
}

// DisplayName returns the character's name, or id itself when the character
// cannot be loaded.
func (c *Characters) DisplayName(id string) string {
	ch, err := c.Load(id)
	if err != nil {
		return id
	}
	return ch.Name
}

// Available lists character ids found in the directory, skipping files whose
// name starts with an underscore.
func (c *Characters) Available() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		if strings.HasPrefix(name, "_") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

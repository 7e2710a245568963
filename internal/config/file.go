package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/die-net/noxious/internal/toxic"
)

// Entry is one proxy in a config file, along with the toxics it starts with.
type Entry struct {
	Proxy
	Toxics []toxic.Toxic
}

type fileEntry struct {
	Name     string        `json:"name"`
	Listen   string        `json:"listen"`
	Upstream string        `json:"upstream"`
	Enabled  *bool         `json:"enabled"`
	Toxics   []toxic.Toxic `json:"toxics"`
}

// Load reads a config file. Files ending in .yaml or .yml are parsed as
// YAML, anything else as JSON. Both hold a list of proxies.
func Load(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(b)
	default:
		return ParseJSON(b)
	}
}

// ParseJSON parses a JSON list of proxies.
func ParseJSON(b []byte) ([]Entry, error) {
	var raw []fileEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, r := range raw {
		e := Entry{
			Proxy: Proxy{
				Name:     r.Name,
				Listen:   r.Listen,
				Upstream: r.Upstream,
				Enabled:  r.Enabled == nil || *r.Enabled,
			},
			Toxics: r.Toxics,
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("proxy %d: %w", i, err)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("proxy %s: duplicate name", e.Name)
		}
		seen[e.Name] = true

		names := make(map[string]bool, len(e.Toxics))
		for _, t := range e.Toxics {
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("proxy %s: %w", e.Name, err)
			}
			if names[t.Key()] {
				return nil, fmt.Errorf("proxy %s: toxic %s: %w", e.Name, t.Name, toxic.ErrAlreadyExists)
			}
			names[t.Key()] = true
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ParseYAML parses a YAML list of proxies. The document is converted to JSON
// so that both formats share one decoder.
func ParseYAML(b []byte) ([]Entry, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return ParseJSON(j)
}

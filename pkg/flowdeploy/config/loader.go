package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type decoder func(data []byte, v any) error

// decoders maps a settings file extension to its decoder.
var decoders = map[string]decoder{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
}

// FromFile reads a settings file. The format follows the extension:
// .yaml, .yml or .json.
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return Config{}, fmt.Errorf("settings file %s: unsupported extension %q", path, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read settings file: %w", err)
	}
	return parse(data, decode, strings.TrimPrefix(ext, "."))
}

// FromYAML parses a YAML document.
func FromYAML(data []byte) (Config, error) {
	return parse(data, yaml.Unmarshal, "yaml")
}

// FromJSON parses a JSON document.
func FromJSON(data []byte) (Config, error) {
	return parse(data, json.Unmarshal, "json")
}

func parse(data []byte, decode decoder, format string) (Config, error) {
	var m map[string]any
	if err := decode(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse %s settings: %w", format, err)
	}
	return New(m), nil
}

// Load builds Settings from defaults, the file at path (if not empty) and
// FLOWDEPLOY_* environment variables, in that order, then validates them.
func Load(path string) (*Settings, error) {
	s := NewDefaultSettings()
	if path != "" {
		cfg, err := FromFile(path)
		if err != nil {
			return nil, err
		}
		s.Apply(cfg)
	}
	if err := s.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

package plugin

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"convertd/internal/config"
)

// Manifest holds per-tool overrides loaded from YAML:
//
//	tools:
//	  gpx-speed:
//	    max_attempts: 5
//	    lease_seconds: 900
//	    max_runtime_seconds: 3600
//	    max_input_bytes: 52428800
//	    inline: false
type Manifest struct {
	Tools map[string]ToolOverride `yaml:"tools"`
}

// ToolOverride replaces descriptor fields that are set.
type ToolOverride struct {
	Label             *string `yaml:"label"`
	MaxAttempts       *int    `yaml:"max_attempts"`
	LeaseSeconds      *int    `yaml:"lease_seconds"`
	MaxRuntimeSeconds *int    `yaml:"max_runtime_seconds"`
	MaxInputBytes     *int64  `yaml:"max_input_bytes"`
	Inline            *bool   `yaml:"inline"`
}

// LoadManifest reads a manifest. An empty path yields an empty manifest.
func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return Manifest{}, nil
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("tool manifest: %w", err)
	}
	file, err := os.Open(expanded)
	if err != nil {
		return Manifest{}, fmt.Errorf("open tool manifest: %w", err)
	}
	defer file.Close()
	return ParseManifest(file)
}

// ParseManifest decodes a manifest, rejecting unknown keys.
func ParseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, nil
		}
		return Manifest{}, fmt.Errorf("parse tool manifest: %w", err)
	}
	for name, o := range m.Tools {
		if o.MaxAttempts != nil && *o.MaxAttempts <= 0 {
			return Manifest{}, fmt.Errorf("tool manifest: %s.max_attempts must be positive", name)
		}
		if o.LeaseSeconds != nil && *o.LeaseSeconds <= 0 {
			return Manifest{}, fmt.Errorf("tool manifest: %s.lease_seconds must be positive", name)
		}
		if o.MaxRuntimeSeconds != nil && *o.MaxRuntimeSeconds <= 0 {
			return Manifest{}, fmt.Errorf("tool manifest: %s.max_runtime_seconds must be positive", name)
		}
	}
	return m, nil
}

func (m Manifest) names() []string {
	names := make([]string, 0, len(m.Tools))
	for name := range m.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o ToolOverride) apply(d Descriptor) Descriptor {
	if o.Label != nil {
		d.Label = *o.Label
	}
	if o.MaxAttempts != nil {
		d.MaxAttempts = *o.MaxAttempts
	}
	if o.LeaseSeconds != nil {
		d.Lease = time.Duration(*o.LeaseSeconds) * time.Second
	}
	if o.MaxRuntimeSeconds != nil {
		d.MaxRuntime = time.Duration(*o.MaxRuntimeSeconds) * time.Second
	}
	if o.MaxInputBytes != nil {
		d.MaxInputBytes = *o.MaxInputBytes
	}
	if o.Inline != nil {
		d.Inline = *o.Inline
	}
	return d
}

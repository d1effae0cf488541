// Package config loads paddock.yml, the declarative overlay that names
// which binaries become processes, their arguments and environment, and
// how they're grouped into stacks.
package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/cuemby/paddock/pkg/paddockerr"
	"gopkg.in/yaml.v3"
)

// ProcessDefaults are shared by every process declared in paddock.yml:
// BuildArgs is appended after each process's own build_args. Processes
// derived from bare artifacts (no paddock.yml) get no defaults.
type ProcessDefaults struct {
	BuildArgs []string `yaml:"build_args"`
}

// Defaults holds top-level default selections.
type Defaults struct {
	Stack   string          `yaml:"stack"`
	Process ProcessDefaults `yaml:"process"`
}

// Stack is one named group of processes as declared in paddock.yml.
type Stack struct {
	Inherits  []string `yaml:"inherits"`
	Processes []string `yaml:"processes"`
}

// Process is a per-process override as declared in paddock.yml.
type Process struct {
	Binary    string            `yaml:"binary"`
	Args      []string          `yaml:"args"`
	BuildArgs []string          `yaml:"build_args"`
	Env       map[string]string `yaml:"env"`
}

// File is the parsed form of paddock.yml.
type File struct {
	Default   Defaults           `yaml:"default"`
	Stacks    map[string]Stack   `yaml:"stacks"`
	Processes map[string]Process `yaml:"processes"`
}

const (
	fileName         = "paddock.yml"
	overrideFileName = "paddock.override.yml"
)

// Paths returns the config file and its optional local override, relative
// to workspaceDir, in the order their mtimes should be checked.
func Paths(workspaceDir string) []string {
	return []string{
		filepath.Join(workspaceDir, fileName),
		filepath.Join(workspaceDir, overrideFileName),
	}
}

// Load reads paddock.yml from workspaceDir. It returns (nil, nil) if the
// file doesn't exist: absence of declarative config is not an error, it
// just means every artifact becomes a process with no overrides.
func Load(workspaceDir string) (*File, error) {
	path := filepath.Join(workspaceDir, fileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, paddockerr.NewConfigParse(err, path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, paddockerr.NewConfigParse(err, path)
	}
	return &f, nil
}

// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry maps project names to their agents-directory paths. It backs
// cross-project addresses like @project/persona.
type Registry struct {
	Projects map[string]string `yaml:"projects"`
}

// DefaultRegistryPath returns ~/.config/dot-agents/projects.yaml.
func DefaultRegistryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dot-agents", "projects.yaml"), nil
}

// LoadRegistry reads the project registry; a missing file yields an
// empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Projects: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("failed to read project registry: %w", err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("invalid project registry %s: %w", path, err)
	}
	if reg.Projects == nil {
		reg.Projects = map[string]string{}
	}
	return &reg, nil
}

// Address is the result of resolving a channel address to a concrete
// channels directory and a local channel name.
type Address struct {
	// Dir is the channels directory the name resolves under.
	Dir string
	// LocalName is the sigil-prefixed channel name inside Dir.
	LocalName string
	// IsProjectEntryPoint marks a bare @project address, which routes
	// to the project's @root channel.
	IsProjectEntryPoint bool
	// ProjectName is set for any cross-project resolution.
	ProjectName string
}

// ResolveAddress maps @name, #name, @project/name and #project/name onto
// a channels directory. A bare @name matching a registered project is the
// project entry point and normalizes to that project's @root.
func ResolveAddress(address, localChannelsDir string, reg *Registry) (*Address, error) {
	if address == "" || (address[0] != '@' && address[0] != '#') {
		return nil, fmt.Errorf("invalid channel address %q: must start with @ or #", address)
	}
	sigil := string(address[0])
	rest := address[1:]
	if rest == "" {
		return nil, fmt.Errorf("invalid channel address %q: missing name", address)
	}
	if reg == nil {
		reg = &Registry{Projects: map[string]string{}}
	}

	if project, name, ok := strings.Cut(rest, "/"); ok {
		root, found := reg.Projects[project]
		if !found {
			return nil, fmt.Errorf("unknown project %q in address %s", project, address)
		}
		return &Address{
			Dir:         filepath.Join(root, "channels"),
			LocalName:   sigil + name,
			ProjectName: project,
		}, nil
	}

	if sigil == "@" {
		if root, found := reg.Projects[rest]; found {
			return &Address{
				Dir:                 filepath.Join(root, "channels"),
				LocalName:           "@root",
				IsProjectEntryPoint: true,
				ProjectName:         rest,
			}, nil
		}
	}

	return &Address{Dir: localChannelsDir, LocalName: address}, nil
}

func marshalYAML(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func unmarshalYAML(data []byte, out any) error {
	return yaml.Unmarshal(data, out)
}
